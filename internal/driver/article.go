package driver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/wxgather/internal/browser"
	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/session"
	"github.com/RecoveryAshes/wxgather/internal/utils"
	readability "github.com/go-shiori/go-readability"
)

const (
	articleReadySelector = "#js_content, #js_article, body"
	articleWaitTimeout   = 10 * time.Second
)

var (
	articleIDRe  = regexp.MustCompile(`/s/([A-Za-z0-9_-]+)`)
	bizParamRe   = regexp.MustCompile(`[?&]__biz=([^&#]+)`)
	bizVarRe     = regexp.MustCompile(`var biz = "([^"]+)"`)
	bizWindowRe  = regexp.MustCompile(`window\.__biz=([^&"']+)`)
	deletedTexts = []string{"该内容已被发布者删除", "The content has been deleted by the author."}

	// 文章不可见的提示文字及对外原因
	restrictedTexts = []struct{ text, reason string }{
		{"内容审核中", "内容审核中"},
		{"该内容暂时无法查看", "该内容暂时无法查看"},
		{"违规无法查看", "违规无法查看"},
		{"发送失败无法查看", "发送失败无法查看"},
		{"Unable to view this content because it violates regulation", "违规无法查看"},
	}

	publishTimeLayouts = []string{
		"2006-01-02 15:04:05",
		"2006年01月02日 15:04",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006年01月02日",
	}
)

// CookieSource 提供持久化会话cookie
type CookieSource interface {
	LoadPersisted() *models.Session
}

// ArticleFetcher 用移动端浏览器渲染单篇文章
type ArticleFetcher struct {
	auto     browser.Automation
	cookies  CookieSource
	opts     browser.Options
	waitTime time.Duration
}

// NewArticleFetcher 创建文章抓取器
func NewArticleFetcher(auto browser.Automation, cookies CookieSource, headless bool) *ArticleFetcher {
	return &ArticleFetcher{
		auto:    auto,
		cookies: cookies,
		opts: browser.Options{
			Headless:      headless,
			MobileMode:    true,
			AntiDetection: true,
		},
		waitTime: articleWaitTimeout,
	}
}

// Fetch 抓取文章,删除/受限/风控均以WxError返回
func (f *ArticleFetcher) Fetch(ctx context.Context, articleURL string) (*models.ArticleInfo, error) {
	if err := models.ValidateArticleURL(articleURL); err != nil {
		return nil, models.NewWxError(models.CodeArticleParse, "无效的文章链接", err.Error(), false, "fetch_article")
	}

	if err := f.auto.StartBrowser(ctx, f.opts); err != nil {
		return nil, err
	}
	defer f.auto.Cleanup()

	if f.cookies != nil {
		if sess := f.cookies.LoadPersisted(); sess != nil {
			if err := f.auto.AddCookies(session.NormalizeCookies(sess.Cookies)); err != nil {
				utils.Warnf("注入公众号cookie失败: %v", err)
			}
		}
	}

	if err := f.auto.Open(ctx, articleURL); err != nil {
		return nil, wrapTimeout(err)
	}
	if err := f.auto.WaitVisible(ctx, articleReadySelector, f.waitTime); err != nil {
		return nil, wrapTimeout(err)
	}

	body, err := f.auto.Text("body")
	if err != nil {
		return nil, wrapTimeout(err)
	}
	if err := classifyBody(body); err != nil {
		if we, ok := models.AsWxError(err); ok && we.Code == models.CodeEnvBlocked {
			f.auto.Cleanup()
		}
		return nil, err
	}

	html, err := f.auto.HTML("html")
	if err != nil {
		return nil, wrapTimeout(err)
	}

	info, err := parseArticle(html, articleURL)
	if err != nil {
		return nil, err
	}

	if info.MpInfo.Biz == "" {
		if biz, err := f.auto.Eval(`() => window.biz || ""`); err == nil && biz != "" {
			info.MpInfo.Biz = biz
			info.MpID = MpIDFromBiz(biz)
		}
	}
	return info, nil
}

// classifyBody 根据页面文字判断删除/受限/风控
func classifyBody(body string) error {
	if strings.Contains(body, models.EnvBlockedText) {
		return models.NewWxError(models.CodeEnvBlocked, "environment blocked", models.EnvBlockedText, false, "fetch_article")
	}
	for _, t := range deletedTexts {
		if strings.Contains(body, t) {
			return models.NewWxError(models.CodeArticleDeleted, "article deleted", "该内容已被发布者删除", false, "fetch_article")
		}
	}
	for _, r := range restrictedTexts {
		if strings.Contains(body, r.text) {
			return models.NewWxError(models.CodeArticleRestricted, "article restricted", r.reason, false, "fetch_article")
		}
	}
	return nil
}

func wrapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return models.NewWxError(models.CodeNetworkTimeout, "network timeout", err.Error(), true, "fetch_article").WithCause(err)
	}
	return err
}

// parseArticle 从渲染后的页面提取文章信息
func parseArticle(html, pageURL string) (*models.ArticleInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewWxError(models.CodeArticleParse, "解析文章失败", err.Error(), false, "fetch_article").WithCause(err)
	}

	meta := func(prop string) string {
		v, _ := doc.Find(fmt.Sprintf(`meta[property="%s"]`, prop)).First().Attr("content")
		return strings.TrimSpace(v)
	}

	info := &models.ArticleInfo{
		ID:          ExtractArticleID(pageURL),
		Title:       meta("og:title"),
		Author:      meta("og:article:author"),
		Description: meta("og:description"),
		TopicImage:  meta("twitter:image"),
		Images:      []string{},
	}
	if info.Title == "" {
		info.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	content := doc.Find("#js_content").First()
	contentHTML, _ := content.Html()
	if strings.TrimSpace(contentHTML) == "" {
		content = doc.Find("#js_article").First()
		cleanGallery(content)
		contentHTML, _ = content.Html()
	}
	info.Content = strings.TrimSpace(contentHTML)

	content.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("data-src")
		if !ok || src == "" {
			src, _ = img.Attr("src")
		}
		if src != "" {
			info.Images = append(info.Images, src)
		}
	})
	if len(info.Images) > 0 {
		info.PicURL = info.Images[0]
	}

	if pt := strings.TrimSpace(doc.Find("#publish_time").First().Text()); pt != "" {
		info.PublishTime = ParsePublishTime(pt, time.Now())
	}

	if info.Description == "" {
		info.Description = readabilityExcerpt(html, pageURL)
	}

	logo, _ := doc.Find("#js_like_profile_bar .wx_follow_avatar img").First().Attr("src")
	info.MpInfo = models.MpInfo{
		MpName: strings.TrimSpace(doc.Find("#js_wx_follow_nickname").First().Text()),
		Logo:   logo,
		Biz:    extractBiz(pageURL, html),
	}
	info.MpID = MpIDFromBiz(info.MpInfo.Biz)

	if info.Title == "" && info.Content == "" {
		return nil, models.NewWxError(models.CodeArticleParse, "未找到文章内容", "", false, "fetch_article")
	}
	return info, nil
}

// cleanGallery 图集页去掉脚本与隐藏节点
func cleanGallery(sel *goquery.Selection) {
	sel.Find("link, head, script").Remove()
	sel.Find(`[aria-hidden="true"]`).Remove()
	sel.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if strings.ReplaceAll(style, " ", "") == "display:none;" {
			s.Remove()
		}
	})
}

func readabilityExcerpt(html, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		utils.Debugf("readability解析失败: %v", err)
		return ""
	}
	return strings.TrimSpace(article.Excerpt)
}

// ExtractArticleID 取 /s/<id> 路径段,能按base64解码时返回解码值
func ExtractArticleID(articleURL string) string {
	m := articleIDRe.FindStringSubmatch(articleURL)
	if m == nil {
		return ""
	}
	id := m[1]

	padded := id
	if pad := (4 - len(padded)%4) % 4; pad > 0 {
		padded += strings.Repeat("=", pad)
	}
	decoded, err := base64.StdEncoding.DecodeString(padded)
	if err != nil || len(decoded) == 0 || !utf8.Valid(decoded) || !isPrintable(string(decoded)) {
		return id
	}
	return string(decoded)
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

func extractBiz(pageURL, html string) string {
	if m := bizParamRe.FindStringSubmatch(pageURL); m != nil {
		if v, err := url.QueryUnescape(m[1]); err == nil {
			return v
		}
		return m[1]
	}
	if m := bizVarRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	if m := bizWindowRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

// MpIDFromBiz "MP_WXS_" + base64解码后的biz,解码失败返回空串
func MpIDFromBiz(biz string) string {
	if biz == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(biz)
	if err != nil {
		return ""
	}
	return "MP_WXS_" + string(decoded)
}

// ParsePublishTime 解析文章页的发布时间,无法解析时返回now
// "01月02日" 这种不带年份的格式按当年处理,晚于now时退回上一年
func ParsePublishTime(s string, now time.Time) int64 {
	s = strings.TrimSpace(s)
	for _, layout := range publishTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.Unix()
		}
	}
	if t, err := time.ParseInLocation("2006年01月02日", fmt.Sprintf("%d年%s", now.Year(), s), time.Local); err == nil {
		if t.After(now) {
			t = t.AddDate(-1, 0, 0)
		}
		return t.Unix()
	}
	utils.Warnf("无法解析时间格式: %s, 使用当前时间", s)
	return now.Unix()
}
