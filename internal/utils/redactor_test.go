package utils

import (
	"net/http"
	"testing"
)

func TestRedactCookieHeader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"空串", "", ""},
		{"单个cookie", "slave_sid=abcdef", "slave_sid=***"},
		{"多个cookie", "a=1; slave_sid=xyz; data_ticket=q", "a=***; slave_sid=***; data_ticket=***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactCookieHeader(tt.in); got != tt.want {
				t.Errorf("RedactCookieHeader() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRedactURL(t *testing.T) {
	got := RedactURL("https://mp.weixin.qq.com/cgi-bin/appmsg?action=list_ex&token=123456&lang=zh_CN")
	want := "https://mp.weixin.qq.com/cgi-bin/appmsg?action=list_ex&token=***&lang=zh_CN"
	if got != want {
		t.Errorf("RedactURL() = %q, want %q", got, want)
	}
}

func TestHeaderRedactor(t *testing.T) {
	hr := NewHeaderRedactor()
	h := http.Header{}
	h.Set("Cookie", "slave_sid=secret")
	h.Set("Authorization", "Bearer abc")
	h.Set("X-Api-Key", "1234567890abcdef")
	h.Set("Referer", "https://mp.weixin.qq.com/")

	r := hr.Redact(h)
	if r["Cookie"] != "slave_sid=***" {
		t.Errorf("Cookie = %q", r["Cookie"])
	}
	if r["Authorization"] != "Bearer ***" {
		t.Errorf("Authorization = %q", r["Authorization"])
	}
	if r["X-Api-Key"] != "1234***cdef" {
		t.Errorf("X-Api-Key = %q", r["X-Api-Key"])
	}
	if r["Referer"] != "https://mp.weixin.qq.com/" {
		t.Errorf("非敏感头部不应脱敏: %q", r["Referer"])
	}
}
