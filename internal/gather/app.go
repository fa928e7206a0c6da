package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
)

// AppStrategy 通过 /cgi-bin/appmsgpublish 拉取已发表列表
type AppStrategy struct {
	engine *Engine
}

// Mode 实现Strategy
func (s *AppStrategy) Mode() models.GatherMode { return models.ModeApp }

// GetArticles 实现Strategy
func (s *AppStrategy) GetArticles(ctx context.Context, req Request) ([]models.Article, error) {
	return s.engine.run(ctx, req, s.engine.listPublished, s.content)
}

func (s *AppStrategy) content(ctx context.Context, link string) string {
	return ExtractContent(s.engine.fetchPage(ctx, link))
}

// listPublished app与web模式共用的已发表列表
func (e *Engine) listPublished(ctx context.Context, token string, req Request, begin int) ([]models.RawItem, error) {
	params := url.Values{}
	params.Set("sub", "list")
	params.Set("sub_action", "list_ex")
	params.Set("begin", strconv.Itoa(begin))
	params.Set("count", strconv.Itoa(pageSize))
	params.Set("fakeid", req.FakeID)
	params.Set("token", token)
	params.Set("lang", "zh_CN")
	params.Set("f", "json")
	params.Set("ajax", "1")

	var out struct {
		PublishPage *string `json:"publish_page"`
	}
	if err := e.callAPI(ctx, "/cgi-bin/appmsgpublish", params, label(req), &out); err != nil {
		return nil, err
	}
	if out.PublishPage == nil || *out.PublishPage == "" {
		utils.Debugf("响应中没有publish_page: %s", label(req))
		return nil, nil
	}
	return parsePublishPage(*out.PublishPage)
}

// parsePublishPage publish_page 与 publish_info 都是JSON字符串
func parsePublishPage(raw string) ([]models.RawItem, error) {
	var page struct {
		PublishList []struct {
			PublishInfo string `json:"publish_info"`
		} `json:"publish_list"`
	}
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		return nil, fmt.Errorf("解析publish_page失败: %w", err)
	}

	var items []models.RawItem
	for _, p := range page.PublishList {
		if p.PublishInfo == "" {
			continue
		}
		var info struct {
			AppMsgEx []models.RawItem `json:"appmsgex"`
		}
		if err := json.Unmarshal([]byte(p.PublishInfo), &info); err != nil {
			utils.Debugf("解析publish_info失败: %v", err)
			continue
		}
		items = append(items, info.AppMsgEx...)
	}
	return items, nil
}
