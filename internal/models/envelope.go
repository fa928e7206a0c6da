package models

import "encoding/json"

// Envelope 门面统一返回结构
// OK 为唯一判定成功/失败的字段
type Envelope struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error *WxError    `json:"error,omitempty"`
	State string      `json:"state,omitempty"`
}

// Ok 成功结果
func Ok(data interface{}, state string) Envelope {
	return Envelope{OK: true, Data: data, State: state}
}

// Fail 失败结果
func Fail(err *WxError, state string) Envelope {
	return Envelope{OK: false, Error: err, State: state}
}

// ToJSON 序列化为JSON
func (e Envelope) ToJSON() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}
