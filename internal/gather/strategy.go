package gather

import (
	"context"
	"fmt"

	"github.com/RecoveryAshes/wxgather/internal/models"
)

// Strategy 一种文章采集方式
type Strategy interface {
	Mode() models.GatherMode
	GetArticles(ctx context.Context, req Request) ([]models.Article, error)
}

// ArticleFetcher 浏览器渲染单篇文章
type ArticleFetcher interface {
	Fetch(ctx context.Context, articleURL string) (*models.ArticleInfo, error)
}

// New 按模式创建采集策略,web模式需要fetcher
func New(mode models.GatherMode, engine *Engine, fetcher ArticleFetcher) (Strategy, error) {
	switch mode {
	case models.ModeAPI:
		return &APIStrategy{engine: engine}, nil
	case models.ModeApp:
		return &AppStrategy{engine: engine}, nil
	case models.ModeWeb:
		if fetcher == nil {
			return nil, fmt.Errorf("web模式需要文章抓取器")
		}
		return &WebStrategy{engine: engine, fetcher: fetcher}, nil
	default:
		return nil, fmt.Errorf("未知的采集模式: %q", mode)
	}
}
