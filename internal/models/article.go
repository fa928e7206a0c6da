package models

import "encoding/json"

// Article 采集到的原始文章记录(不是持久化领域模型)
type Article struct {
	ID          string            `json:"id"`
	MpID        string            `json:"mp_id"`
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	PicURL      string            `json:"pic_url"`
	PublishTime int64             `json:"publish_time"`
	Content     string            `json:"content,omitempty"`
	Description string            `json:"description,omitempty"`
	Ext         map[string]string `json:"ext,omitempty"`
}

// RawItem 列表接口返回的单条文章
// appmsg 与 appmsgpublish 两种接口字段一致
type RawItem struct {
	Aid        string `json:"aid"`
	Title      string `json:"title"`
	Link       string `json:"link"`
	Cover      string `json:"cover"`
	UpdateTime int64  `json:"update_time"`
	Digest     string `json:"digest"`
	Content    string `json:"-"`
	MpID       string `json:"-"`
}

// MpInfo 文章页中提取到的公众号信息
type MpInfo struct {
	MpName string `json:"mp_name"`
	Logo   string `json:"logo"`
	Biz    string `json:"biz"`
}

// ArticleInfo 单篇文章抓取结果
type ArticleInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	PublishTime int64    `json:"publish_time,omitempty"`
	Content     string   `json:"content"`
	Images      []string `json:"images,omitempty"`
	MpInfo      MpInfo   `json:"mp_info"`
	MpID        string   `json:"mp_id,omitempty"`
	PicURL      string   `json:"pic_url,omitempty"`
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description,omitempty"`
	TopicImage  string   `json:"topic_image,omitempty"`
}

// ContentDeleted 文章已删除时的内容哨兵值
const ContentDeleted = "DELETED"

// ToJSON 序列化为JSON
func (a *ArticleInfo) ToJSON() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// BizAccount searchbiz 返回的公众号条目
type BizAccount struct {
	FakeID       string `json:"fakeid"`
	Nickname     string `json:"nickname"`
	Alias        string `json:"alias"`
	RoundHeadImg string `json:"round_head_img"`
	ServiceType  int    `json:"service_type"`
	Signature    string `json:"signature"`
}
