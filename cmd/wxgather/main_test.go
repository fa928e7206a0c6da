package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RecoveryAshes/wxgather/internal/models"
)

func TestValidateGatherFlags(t *testing.T) {
	tests := []struct {
		name        string
		mode        string
		maxPage     int
		interval    int
		fakeID      string
		feeds       string
		expectError bool
	}{
		{"指定fakeid", "app", 3, 10, "MzA5", "", false},
		{"使用列表文件", "", 0, -1, "", "configs/feeds.yaml", false},
		{"无效模式", "rss", 1, 0, "MzA5", "", true},
		{"页数过大", "api", 101, 0, "MzA5", "", true},
		{"间隔为负", "api", 1, -2, "MzA5", "", true},
		{"缺少公众号", "web", 1, 0, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGatherFlags(tt.mode, tt.maxPage, tt.interval, tt.fakeID, tt.feeds)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestValidateSearchFlags(t *testing.T) {
	tests := []struct {
		name        string
		keyword     string
		limit       int
		offset      int
		expectError bool
	}{
		{"正常", "人民日报", 5, 0, false},
		{"空关键字", "  ", 5, 0, true},
		{"数量越界", "a", 21, 0, true},
		{"负偏移", "a", 5, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSearchFlags(tt.keyword, tt.limit, tt.offset)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestValidateArticleURL(t *testing.T) {
	if err := ValidateArticleURL("https://mp.weixin.qq.com/s/abc"); err != nil {
		t.Errorf("公众号文章链接应通过: %v", err)
	}
	if err := ValidateArticleURL("https://example.com/s/abc"); err == nil {
		t.Error("非公众号链接应被拒绝")
	}
}

func TestLoadFeeds(t *testing.T) {
	dir := t.TempDir()

	t.Run("解析并去重", func(t *testing.T) {
		path := filepath.Join(dir, "feeds.yaml")
		content := `feeds:
  - faker_id: MzA5MTY0NjE1MQ==
    mp_name: 示例公众号
    interval: 3600
  - faker_id: MzA5MTY0NjE1MQ==
    mp_name: 重复
  - id: MP_WXS_42
    faker_id: NDI=
  - mp_name: 没有fakeid
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		feeds, err := loadFeeds(path)
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		want := []models.Feed{
			{ID: "MP_WXS_3091646151", FakerID: "MzA5MTY0NjE1MQ==", MpName: "示例公众号", Interval: 3600},
			{ID: "MP_WXS_42", FakerID: "NDI="},
		}
		if len(feeds) != len(want) {
			t.Fatalf("期望%d项, 实际%d项: %+v", len(want), len(feeds), feeds)
		}
		for i := range want {
			if feeds[i] != want[i] {
				t.Errorf("第%d项: 期望%+v, 实际%+v", i, want[i], feeds[i])
			}
		}
	})

	t.Run("空列表报错", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		if err := os.WriteFile(path, []byte("feeds: []\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := loadFeeds(path); err == nil {
			t.Error("空列表应报错")
		}
	})

	t.Run("文件不存在", func(t *testing.T) {
		if _, err := loadFeeds(filepath.Join(dir, "missing.yaml")); err == nil {
			t.Error("应返回错误")
		}
	})
}

func TestFeedMpID(t *testing.T) {
	if got := feedMpID("MzA5MTY0NjE1MQ=="); got != "MP_WXS_3091646151" {
		t.Errorf("got %s", got)
	}
	if got := feedMpID("not-base64!"); got != "MP_WXS_not-base64!" {
		t.Errorf("got %s", got)
	}
}

func TestPrintEnvelope(t *testing.T) {
	if err := printEnvelope(models.Ok("x", "idle")); err != nil {
		t.Errorf("成功结果不应报错: %v", err)
	}
	env := models.Fail(models.NewWxError(models.CodeNotLoggedIn, "no cookies", "", true, "session"), "idle")
	if err := printEnvelope(env); err == nil {
		t.Error("失败结果应返回错误")
	}
}
