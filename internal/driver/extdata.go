package driver

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/wxgather/internal/browser"
	"github.com/RecoveryAshes/wxgather/internal/utils"
)

// 后台首页的账号概况,每项按顺序尝试多个选择器
var extDataSelectors = []struct {
	key       string
	attr      string
	selectors []string
}{
	{"wx_app_name", "", []string{".weui-desktop_name", ".account-name"}},
	{"wx_logo", "src", []string{".weui-desktop-account__img", ".account-avatar img"}},
	{"wx_read_yesterday", "", []string{
		".weui-desktop-home-overview .weui-desktop-data-overview:nth-child(1) .weui-desktop-data-overview__desc span",
		".data-item:nth-child(1) .number",
	}},
	{"wx_share_yesterday", "", []string{
		".weui-desktop-home-overview .weui-desktop-data-overview:nth-child(2) .weui-desktop-data-overview__desc span",
		".data-item:nth-child(2) .number",
	}},
	{"wx_watch_yesterday", "", []string{
		".weui-desktop-home-overview .weui-desktop-data-overview:nth-child(3) .weui-desktop-data-overview__desc span",
		".data-item:nth-child(3) .number",
	}},
	{"wx_yuan_count", "", []string{".original_cnt span", ".original-count .number"}},
	{"wx_user_count", "", []string{".weui-desktop-user_num .weui-desktop-user_sum span", ".user-count .number"}},
}

// scrapeExtData 读取首页账号信息,失败项留空
func scrapeExtData(auto browser.Automation) map[string]string {
	html, err := auto.HTML("html")
	if err != nil {
		utils.Warnf("读取首页失败, 跳过扩展数据: %v", err)
		return map[string]string{}
	}
	return parseExtData(html)
}

func parseExtData(html string) map[string]string {
	data := make(map[string]string, len(extDataSelectors))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		utils.Warnf("解析首页失败: %v", err)
		return data
	}

	for _, item := range extDataSelectors {
		value := ""
		for _, sel := range item.selectors {
			node := doc.Find(sel).First()
			if node.Length() == 0 {
				continue
			}
			if item.attr != "" {
				value, _ = node.Attr(item.attr)
			} else {
				value = strings.TrimSpace(node.Text())
			}
			if value != "" {
				break
			}
		}
		if value == "" {
			utils.Debugf("获取%s失败: 未匹配到有效元素", item.key)
		}
		data[item.key] = value
	}
	return data
}
