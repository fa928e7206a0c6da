package gather

import (
	"context"
	"errors"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
)

// WebStrategy 列表同app模式,正文由浏览器渲染
type WebStrategy struct {
	engine  *Engine
	fetcher ArticleFetcher
}

// Mode 实现Strategy
func (s *WebStrategy) Mode() models.GatherMode { return models.ModeWeb }

// GetArticles 实现Strategy
func (s *WebStrategy) GetArticles(ctx context.Context, req Request) ([]models.Article, error) {
	return s.engine.run(ctx, req, s.engine.listPublished, s.content)
}

func (s *WebStrategy) content(ctx context.Context, link string) string {
	info, err := s.fetcher.Fetch(ctx, link)
	if err != nil {
		if errors.Is(err, models.ErrArticleDeleted) {
			return models.ContentDeleted
		}
		utils.Warnf("浏览器获取文章失败 [%s]: %v", utils.RedactURL(link), err)
		return ""
	}
	return CleanDocument(info.Content)
}
