package gather

import (
	"bytes"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 10 * time.Second
)

// Response 单次请求的结果
type Response struct {
	StatusCode int
	Body       []byte
	FinalURL   string // 跟随重定向后的地址
	Header     http.Header
}

// Client 基于colly的同步HTTP客户端
// 每次请求克隆基础collector,回调互不干扰
type Client struct {
	base *colly.Collector
}

// NewClient 创建客户端,connect/read超时分别作用于建连与读取响应头
func NewClient(connectTimeout, readTimeout time.Duration) *Client {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.SetClient(&http.Client{Transport: transport, Timeout: connectTimeout + readTimeout})
	c.SetRequestTimeout(connectTimeout + readTimeout)
	c.WithTransport(transport)

	return &Client{base: c}
}

// Get 发起GET请求,非2xx返回错误
func (cl *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := cl.base.Clone()
	var (
		resp   *Response
		reqErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for name, values := range header {
			if len(values) > 0 {
				r.Headers.Set(name, values[0])
			}
		}
		utils.Debugf("访问: %s", utils.RedactURL(r.URL.String()))
	})

	c.OnResponse(func(r *colly.Response) {
		body := r.Body
		encoding := r.Headers.Get("Content-Encoding")
		if encoding != "" {
			decompressed, err := decompressResponse(encoding, r.Body)
			if err != nil {
				utils.Warnf("解压响应失败 [%s] (编码=%s): %v", utils.RedactURL(r.Request.URL.String()), encoding, err)
			} else {
				body = decompressed
			}
		}
		resp = &Response{
			StatusCode: r.StatusCode,
			Body:       body,
			FinalURL:   r.Request.URL.String(),
			Header:     r.Headers.Clone(),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		reqErr = fmt.Errorf("请求失败 status=%d: %w", status, err)
	})

	if err := c.Request(http.MethodGet, rawURL, nil, nil, nil); err != nil && reqErr == nil {
		reqErr = err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if reqErr != nil {
		return nil, reqErr
	}
	if resp == nil {
		return nil, fmt.Errorf("请求未返回响应: %s", utils.RedactURL(rawURL))
	}
	return resp, nil
}

// decompressResponse 根据Content-Encoding解压响应体
// gzip 已由colly解压,这里只处理 br 与 deflate
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "br":
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "gzip", "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
