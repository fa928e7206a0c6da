package gather

import (
	"context"
	"net/url"
	"strconv"

	"github.com/RecoveryAshes/wxgather/internal/models"
)

// APIStrategy 通过 /cgi-bin/appmsg 拉取文章列表
type APIStrategy struct {
	engine *Engine
}

// Mode 实现Strategy
func (s *APIStrategy) Mode() models.GatherMode { return models.ModeAPI }

// GetArticles 实现Strategy
func (s *APIStrategy) GetArticles(ctx context.Context, req Request) ([]models.Article, error) {
	return s.engine.run(ctx, req, s.list, s.content)
}

func (s *APIStrategy) list(ctx context.Context, token string, req Request, begin int) ([]models.RawItem, error) {
	params := url.Values{}
	params.Set("action", "list_ex")
	params.Set("begin", strconv.Itoa(begin))
	params.Set("count", strconv.Itoa(pageSize))
	params.Set("fakeid", req.FakeID)
	params.Set("type", "9")
	params.Set("query", "")
	params.Set("token", token)
	params.Set("lang", "zh_CN")
	params.Set("f", "json")
	params.Set("ajax", "1")

	var out struct {
		AppMsgList []models.RawItem `json:"app_msg_list"`
	}
	if err := s.engine.callAPI(ctx, "/cgi-bin/appmsg", params, label(req), &out); err != nil {
		return nil, err
	}
	return out.AppMsgList, nil
}

func (s *APIStrategy) content(ctx context.Context, link string) string {
	return ExtractContent(s.engine.fetchPage(ctx, link))
}

func label(req Request) string {
	if req.MpTitle != "" {
		return req.MpTitle
	}
	return req.MpID
}
