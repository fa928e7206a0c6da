package gather

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

const contentWidth = "width: 1080px"

var (
	imgWidthRe   = regexp.MustCompile(`width\s*:\s*\d+\s*px`)
	visibilityRe = regexp.MustCompile(`visibility:\s*hidden;?`)

	noiseSelectors = strings.Join([]string{
		"head", "script", "style", "link", "meta", "iframe", "noscript",
		"header", "footer", "nav", "aside",
		`div[class~="ad"]`, `div[class*="advert"]`, `div[class*="banner"]`,
		`div[id*="advert"]`, `div[id*="banner"]`, "#js_pc_qr_code",
	}, ", ")

	sanitizer = newSanitizer()
)

func newSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("style").Globally()
	p.AllowAttrs("data-src", "data-ratio", "data-w").OnElements("img")
	p.AllowElements("section")
	return p
}

// ExtractContent 从文章页HTML中取出 #js_content 正文
// 风控页或缺少正文容器时返回空串
func ExtractContent(page string) string {
	if page == "" || strings.Contains(page, models.EnvBlockedText) {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		utils.Debugf("解析文章页失败: %v", err)
		return ""
	}

	content := doc.Find("div#js_content").First()
	if content.Length() == 0 {
		return ""
	}
	if style, ok := content.Attr("style"); ok {
		style = strings.TrimSpace(visibilityRe.ReplaceAllString(style, ""))
		if style == "" {
			content.RemoveAttr("style")
		} else {
			content.SetAttr("style", style)
		}
	}
	normalizeImages(content)

	out, err := goquery.OuterHtml(content)
	if err != nil {
		return ""
	}
	return out
}

// CleanDocument 浏览器模式下整页清理:去掉噪音节点与注释,过滤不安全标签,统一图片
func CleanDocument(page string) string {
	if strings.TrimSpace(page) == "" || strings.Contains(page, models.EnvBlockedText) {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		utils.Debugf("解析正文失败: %v", err)
		return ""
	}

	doc.Find(noiseSelectors).Remove()
	for _, n := range doc.Nodes {
		removeComments(n)
	}
	normalizeImages(doc.Selection)

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	raw, err := body.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(sanitizer.Sanitize(raw))
}

// normalizeImages 懒加载图片的 data-src 覆盖占位 src,像素宽度统一为1080px
func normalizeImages(sel *goquery.Selection) {
	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("data-src"); ok && src != "" {
			img.SetAttr("src", src)
			img.RemoveAttr("data-src")
		}
		if style, ok := img.Attr("style"); ok {
			img.SetAttr("style", imgWidthRe.ReplaceAllString(style, contentWidth))
		}
	})
}

func removeComments(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			removeComments(c)
		}
		c = next
	}
}
