package service

import (
	"context"
	"errors"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/driver"
	"github.com/RecoveryAshes/wxgather/internal/gather"
	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/queue"
	"github.com/RecoveryAshes/wxgather/internal/session"
	"github.com/RecoveryAshes/wxgather/internal/utils"
)

const (
	minWaitTimeout = time.Second
	minPoll        = 200 * time.Millisecond

	// MsgSessionInvalid 采集时发现会话失效的提醒
	MsgSessionInvalid = "公众号平台登录失效,请重新登录"
)

// ErrNoPersistedSession 没有可用的持久化会话
var ErrNoPersistedSession = errors.New("no persisted session")

// QrCodeInfo GetQrCode 的返回数据
type QrCodeInfo struct {
	NeedLogin bool              `json:"need_login"`
	Code      string            `json:"code,omitempty"`
	IsExists  bool              `json:"is_exists"`
	State     models.LoginState `json:"state"`
	Error     string            `json:"error,omitempty"`
	Msg       string            `json:"msg"`
	Detail    string            `json:"detail,omitempty"`
}

// SessionInfo GetSessionInfo 的返回数据
type SessionInfo struct {
	State   models.LoginState `json:"state"`
	Error   string            `json:"error,omitempty"`
	HasCode bool              `json:"has_code"`
	QRURL   string            `json:"wx_login_url,omitempty"`
	Session *models.Session   `json:"session,omitempty"`
	ExtData map[string]string `json:"ext_data,omitempty"`
}

// Service 对外业务门面,所有操作返回Envelope
type Service struct {
	driver   *driver.Driver
	sessions *session.Manager
	fetcher  gather.ArticleFetcher
	queue    *queue.Queue

	gatherCfg gather.Config
	publisher Publisher
	notify    func(msg string)
}

// Option 门面选项
type Option func(*Service)

// WithPublisher 设置采集完成通知
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithNotifier 设置会话失效等提醒的发送方式
func WithNotifier(fn func(msg string)) Option {
	return func(s *Service) {
		if fn != nil {
			s.notify = fn
		}
	}
}

// WithGatherConfig 设置采集引擎配置
func WithGatherConfig(cfg gather.Config) Option {
	return func(s *Service) { s.gatherCfg = cfg }
}

// New 创建门面
func New(d *driver.Driver, fetcher gather.ArticleFetcher, q *queue.Queue, opts ...Option) *Service {
	s := &Service{
		driver:   d,
		sessions: d.SessionManager(),
		fetcher:  fetcher,
		queue:    q,
		notify:   func(msg string) { utils.Warn(msg) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) state() models.LoginState {
	return s.driver.GetState().State
}

// GetQrCode 发起扫码登录并返回当前二维码状态
func (s *Service) GetQrCode(callback driver.LoginCallback, notice driver.NoticeFunc) models.Envelope {
	res := s.driver.StartLogin(callback, notice)
	st := s.driver.GetState()

	msg := "waiting"
	if st.HasCode {
		msg = "ok"
	}
	return models.Ok(QrCodeInfo{
		NeedLogin: st.State != models.StateSuccess,
		Code:      res.Code,
		IsExists:  res.IsExists,
		State:     st.State,
		Error:     st.Error,
		Msg:       msg,
		Detail:    res.Msg,
	}, string(st.State))
}

// GetState 当前登录状态,不会失败
func (s *Service) GetState() models.Envelope {
	st := s.driver.GetState()
	return models.Ok(st, string(st.State))
}

// WaitUntilFinished 轮询直到登录进入终态或超时
// 登录失败时按原始错误归类,Data仍为状态快照
func (s *Service) WaitUntilFinished(ctx context.Context, timeout, poll time.Duration) models.Envelope {
	if timeout < minWaitTimeout {
		timeout = minWaitTimeout
	}
	if poll < minPoll {
		poll = minPoll
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		env := s.GetState()
		st := s.state()
		if st == models.StateFailed {
			if cause := s.driver.LastFailure(); cause != nil {
				failed := MapError(cause, "login", st)
				failed.Data = env.Data
				return failed
			}
		}
		if st.IsTerminal() {
			return env
		}
		if time.Now().After(deadline) {
			return models.Fail(models.NewWxError(models.CodeNetworkTimeout, "timeout", "timeout", true, "login"), string(st))
		}
		select {
		case <-ctx.Done():
			return MapError(ctx.Err(), "login", st)
		case <-ticker.C:
		}
	}
}

// GetSessionInfo 状态与内存会话
func (s *Service) GetSessionInfo() models.Envelope {
	st := s.driver.GetState()
	info := SessionInfo{
		State:   st.State,
		Error:   st.Error,
		HasCode: st.HasCode,
		QRURL:   st.QRURL,
		Session: s.driver.Session(),
	}
	if ext := s.driver.ExtData(); len(ext) > 0 {
		info.ExtData = ext
	}
	return models.Ok(info, string(st.State))
}

// cookieHeader 由持久化会话生成Cookie头
func (s *Service) cookieHeader() (string, error) {
	sess := s.sessions.LoadPersisted()
	if sess == nil {
		return "", models.NewWxError(models.CodeNotLoggedIn, "no persisted session", "no persisted session", true, "session").WithCause(ErrNoPersistedSession)
	}
	header := session.CookieHeader(sess.Cookies)
	if header == "" {
		return "", models.NewWxError(models.CodeNotLoggedIn, "no cookies", "no cookies", true, "session")
	}
	return header, nil
}

// GetCookieHeader 请求用的Cookie头,唯一来源是持久化会话
func (s *Service) GetCookieHeader() models.Envelope {
	header, err := s.cookieHeader()
	if err != nil {
		return MapError(err, "session", models.StateIdle)
	}
	// 有cookie不代表已登录,state只作观测
	return models.Ok(header, string(models.StateIdle))
}

// CookieSource 供采集引擎使用
func (s *Service) CookieSource() gather.CookieSource {
	return gather.CookieFunc(s.cookieHeader)
}

// LoginWithToken 从持久化会话恢复登录
func (s *Service) LoginWithToken(ctx context.Context, callback driver.LoginCallback) models.Envelope {
	utils.Info("公众号会话恢复: 尝试复用持久化登录态")

	sess, res, err := s.driver.LoginWithToken(ctx, callback)
	if err != nil {
		return MapError(err, "login", models.StateIdle)
	}
	if sess != nil {
		return s.GetSessionInfo()
	}

	st := s.driver.GetState()
	code := models.CodeNotLoggedIn
	reason := st.Error
	if res != nil {
		reason = res.Message
		if res.Message == driver.MsgSessionExpiredRelogin {
			code = models.CodeSessionExpired
		}
	}
	if st.State == models.StateExpired {
		code = models.CodeSessionExpired
	}
	if reason == "" {
		reason = "session restore failed"
	}

	env := models.Fail(models.NewWxError(code, "session restore failed", reason, code != models.CodeSessionExpired, "login"), string(st.State))
	if res != nil {
		env.Data = res
	}
	return env
}

// FetchArticle 抓取单篇文章
func (s *Service) FetchArticle(ctx context.Context, articleURL string) models.Envelope {
	st := s.state()
	if s.fetcher == nil {
		return models.Fail(models.NewWxError(models.CodeInternal, "article fetcher unavailable", "", false, "article"), string(st))
	}

	info, err := s.fetcher.Fetch(ctx, articleURL)
	if err != nil {
		return MapError(err, "article", st)
	}
	if info.Content == models.ContentDeleted {
		return models.Fail(models.NewWxError(models.CodeArticleDeleted, "article deleted", models.ContentDeleted, false, "article"), string(st))
	}
	return models.Ok(info, string(st))
}

// ClearSession 清除持久化会话与内存会话,不关闭浏览器
func (s *Service) ClearSession(reason string) models.Envelope {
	if reason == "" {
		reason = "cleared"
	}
	s.sessions.ClearPersisted()
	s.driver.ResetSession(reason)
	return s.GetState()
}

// Logout 退出并关闭浏览器
func (s *Service) Logout(clearPersisted bool) models.Envelope {
	s.driver.Logout(clearPersisted)
	return s.GetState()
}

// Shutdown 退出但保留持久化会话
func (s *Service) Shutdown() {
	s.Logout(false)
	if s.queue != nil {
		s.queue.DeleteQueue()
	}
}
