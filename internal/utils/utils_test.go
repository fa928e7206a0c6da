package utils

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/models"
)

func TestReadURLsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "urls.txt")
	content := "# 注释\n\nhttps://mp.weixin.qq.com/s/abc\nhttps://example.com/x\nhttps://mp.weixin.qq.com/s/def\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	urls, err := ReadURLsFromFile(path)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if len(urls) != 2 {
		t.Errorf("期望2个有效链接, 得到 %d: %v", len(urls), urls)
	}

	empty := filepath.Join(dir, "empty.txt")
	_ = os.WriteFile(empty, []byte("# 仅注释\n"), 0644)
	if _, err := ReadURLsFromFile(empty); err == nil {
		t.Error("无有效链接时应报错")
	}
}

func TestRandomDuration(t *testing.T) {
	if RandomDuration(0) != 0 {
		t.Error("上限为0时应返回0")
	}
	for i := 0; i < 100; i++ {
		d := RandomDuration(50 * time.Millisecond)
		if d < 0 || d > 50*time.Millisecond {
			t.Fatalf("超出范围: %v", d)
		}
	}
}

func TestRandomBetween(t *testing.T) {
	for i := 0; i < 100; i++ {
		v := RandomBetween(1200, 1920)
		if v < 1200 || v > 1920 {
			t.Fatalf("超出范围: %d", v)
		}
	}
	if RandomBetween(5, 5) != 5 {
		t.Error("上下限相等时应返回下限")
	}
}

func TestReporter(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(dir, "run-1", models.ModeApp)
	r.AddFeed("MP_WXS_1", "测试号", 3)
	r.AddError("MP_WXS_2", models.NewWxError(models.CodeFrequencyControl, "频率控制", "", false, "gather"))
	r.AddError("MP_WXS_3", errors.New("未知错误"))

	path, err := r.GenerateReport()
	if err != nil {
		t.Fatalf("生成报告失败: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rep models.GatherReport
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Stats.Articles != 3 || rep.Stats.Feeds != 1 || rep.Stats.Failed != 2 {
		t.Errorf("统计错误: %+v", rep.Stats)
	}
	if rep.Errors[0].Code != models.CodeFrequencyControl || rep.Errors[0].Retryable {
		t.Errorf("错误码未保留: %+v", rep.Errors[0])
	}
	if rep.Errors[1].Code != models.CodeInternal {
		t.Errorf("未知错误应归为INTERNAL_ERROR: %+v", rep.Errors[1])
	}
}

func TestHeaderValidator(t *testing.T) {
	hv := NewHeaderValidator()
	tests := []struct {
		name    string
		header  string
		value   string
		wantErr bool
	}{
		{"合法头部", "X-Custom", "abc", false},
		{"禁止Cookie", "Cookie", "a=1", true},
		{"禁止小写referer", "referer", "https://mp.weixin.qq.com/", true},
		{"禁止User-Agent", "User-Agent", "curl/8.0", true},
		{"禁止Host", "host", "mp.weixin.qq.com", true},
		{"非法名称", "X Custom", "a", true},
		{"非ASCII值", "X-Name", "公众号", true},
		{"控制字符", "X-Name", "a\r\nb", true},
		{"值过长", "X-Name", strings.Repeat("a", MaxHeaderValueLength+1), true},
		{"可解码的编码", "Accept-Encoding", "gzip;q=1.0, br", false},
		{"无法解码的编码", "Accept-Encoding", "gzip, zstd", true},
		{"公众号Origin", "Origin", "https://mp.weixin.qq.com/", false},
		{"其他Origin", "Origin", "https://example.com", true},
		{"XHR标记", "X-Requested-With", "XMLHttpRequest", false},
		{"非XHR标记", "X-Requested-With", "fetch", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hv.ValidateHeader(tt.header, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
