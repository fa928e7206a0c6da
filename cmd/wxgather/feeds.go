package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/RecoveryAshes/wxgather/internal/driver"
	"github.com/RecoveryAshes/wxgather/internal/models"
	"gopkg.in/yaml.v3"
)

// feedFile 公众号列表文件
//
//	feeds:
//	  - id: MP_WXS_3091646151
//	    faker_id: MzA5MTY0NjE1MQ==
//	    mp_name: 示例公众号
//	    interval: 3600
type feedFile struct {
	Feeds []models.Feed `yaml:"feeds"`
}

// loadFeeds 读取公众号列表,跳过没有faker_id的项
func loadFeeds(path string) ([]models.Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取公众号列表失败: %w", err)
	}

	var ff feedFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("解析公众号列表失败: %w", err)
	}

	feeds := make([]models.Feed, 0, len(ff.Feeds))
	seen := make(map[string]bool)
	for _, f := range ff.Feeds {
		f.FakerID = strings.TrimSpace(f.FakerID)
		if f.FakerID == "" {
			continue
		}
		if seen[f.FakerID] {
			continue
		}
		seen[f.FakerID] = true
		if f.ID == "" {
			f.ID = feedMpID(f.FakerID)
		}
		feeds = append(feeds, f)
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("公众号列表为空: %s", path)
	}
	return feeds, nil
}

// feedMpID fakeid 即 base64 编码的 biz,无法解码时直接使用fakeid
func feedMpID(fakeID string) string {
	if id := driver.MpIDFromBiz(fakeID); id != "" {
		return id
	}
	return "MP_WXS_" + fakeID
}
