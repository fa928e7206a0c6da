package models

// LoginState 登录流程状态
type LoginState string

const (
	StateIdle     LoginState = "idle"     // 空闲,未开始任何登录流程
	StateStarting LoginState = "starting" // 启动中,初始化浏览器
	StateQRReady  LoginState = "qr_ready" // 二维码已生成
	StateWaiting  LoginState = "waiting"  // 等待扫码确认
	StateSuccess  LoginState = "success"  // 登录成功(不代表永久有效)
	StateFailed   LoginState = "failed"   // 登录失败
	StateExpired  LoginState = "expired"  // 会话或二维码过期
)

// IsTerminal 是否为等待登录结束时的终态
func (s LoginState) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateExpired:
		return true
	}
	return false
}

// String 实现fmt.Stringer
func (s LoginState) String() string {
	return string(s)
}

// StateSnapshot GetState 返回的可观测状态
type StateSnapshot struct {
	State   LoginState `json:"state"`
	Error   string     `json:"error,omitempty"`
	HasCode bool       `json:"has_code"`
	QRURL   string     `json:"wx_login_url,omitempty"`
}

// LoginResult StartLogin 的返回结构
type LoginResult struct {
	Code     string `json:"code"`
	IsExists bool   `json:"is_exists"`
	Msg      string `json:"msg,omitempty"`
}

// TokenResult LoginWithToken 需要重新扫码时的返回结构
type TokenResult struct {
	NeedLogin bool   `json:"need_login"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	IsExists  bool   `json:"is_exists"`
}
