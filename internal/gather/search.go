package gather

import (
	"context"
	"net/url"
	"strconv"

	"github.com/RecoveryAshes/wxgather/internal/models"
)

// SearchResult searchbiz 的返回
type SearchResult struct {
	List  []models.BizAccount `json:"list"`
	Total int                 `json:"total"`
}

// SearchBiz 按关键字搜索公众号,用于获取fakeid
func (e *Engine) SearchBiz(ctx context.Context, keyword string, limit, offset int) (*SearchResult, error) {
	if err := e.prepare(); err != nil {
		return nil, err
	}
	token, err := e.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, e.Error(msgNeedLogin, "")
	}
	if limit <= 0 {
		limit = 5
	}

	params := url.Values{}
	params.Set("action", "search_biz")
	params.Set("begin", strconv.Itoa(offset))
	params.Set("count", strconv.Itoa(limit))
	params.Set("query", keyword)
	params.Set("token", token)
	params.Set("lang", "zh_CN")
	params.Set("f", "json")
	params.Set("ajax", "1")

	out := &SearchResult{}
	if err := e.callAPI(ctx, "/cgi-bin/searchbiz", params, keyword, out); err != nil {
		if we, ok := models.AsWxError(err); ok && we.Code == models.CodeInvalidSession {
			e.Error(we.Message, models.CodeInvalidSession)
		}
		return nil, err
	}
	if out.List == nil {
		out.List = []models.BizAccount{}
	}
	return out, nil
}
