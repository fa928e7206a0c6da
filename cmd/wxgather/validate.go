package main

import (
	"fmt"
	"strings"

	"github.com/RecoveryAshes/wxgather/internal/models"
)

// ValidateArticleURL 验证文章链接
func ValidateArticleURL(urlStr string) error {
	if err := models.ValidateArticleURL(urlStr); err != nil {
		return fmt.Errorf("无效的文章链接: %w", err)
	}
	return nil
}

// ValidateGatherFlags 验证采集参数
func ValidateGatherFlags(mode string, maxPage, interval int, fakeID, feedsFile string) error {
	if mode != "" && !models.GatherMode(mode).Valid() {
		return fmt.Errorf("无效的采集模式: %s (有效值: api, app, web)", mode)
	}

	if maxPage < 0 || maxPage > 100 {
		return fmt.Errorf("最大页数必须在1-100之间,当前值: %d", maxPage)
	}

	// -1 表示使用配置文件的值
	if interval < -1 || interval > 600 {
		return fmt.Errorf("翻页间隔必须在0-600秒之间,当前值: %d", interval)
	}

	if strings.TrimSpace(fakeID) == "" && strings.TrimSpace(feedsFile) == "" {
		return fmt.Errorf("需要指定 --fakeid 或公众号列表文件")
	}
	return nil
}

// ValidateSearchFlags 验证搜索参数
func ValidateSearchFlags(keyword string, limit, offset int) error {
	if strings.TrimSpace(keyword) == "" {
		return fmt.Errorf("搜索关键字不能为空")
	}
	if limit < 1 || limit > 20 {
		return fmt.Errorf("每页数量必须在1-20之间,当前值: %d", limit)
	}
	if offset < 0 {
		return fmt.Errorf("偏移量不能为负数,当前值: %d", offset)
	}
	return nil
}
