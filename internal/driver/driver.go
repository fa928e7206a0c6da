package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/browser"
	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/session"
	"github.com/RecoveryAshes/wxgather/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	LoginURL   = "https://mp.weixin.qq.com/"
	HomeURL    = "https://mp.weixin.qq.com/cgi-bin/home"
	HomeMarker = "/cgi-bin/home"
	QRSelector = "img.login__type__container__scan__qrcode"

	DefaultQRTimeout   = 15 * time.Second
	DefaultScanTimeout = 120 * time.Second
	tokenLoginTimeout  = 15 * time.Second

	// QRExpiresMinutes 二维码有效期(分钟)
	QRExpiresMinutes = 2
	// 不超过该大小的截图是占位图
	placeholderQRBytes = 364

	qrRenderedJS = `() => {
		const img = document.querySelector("img.login__type__container__scan__qrcode");
		return !!img && img.complete && img.naturalWidth > 60 && img.naturalHeight > 60
			&& (img.src || "").includes("scanloginqrcode");
	}`
)

const (
	msgSessionValid     = "会话仍有效"
	msgLoginInProgress  = "已有登录任务在进行中"
	msgLoginLocked      = "微信公众平台登录任务正在运行"
	msgLoginExpired     = "登录已过期"
	msgPersistedExpired = "持久化会话已失效"
)

// LoginWithToken 需要重新扫码时 TokenResult.Message 的取值
const (
	MsgNoSessionRelogin      = "未找到可用的会话，请扫码登录后重试。"
	MsgSessionExpiredRelogin = "会话已过期，请扫码登录后重试。"
)

var (
	// ErrQRNotReady 二维码未正常渲染
	ErrQRNotReady = errors.New("二维码未就绪")
	// ErrNoCookies 登录完成但未获取到cookie
	ErrNoCookies = errors.New("未获取到cookie")
	// ErrScanTimeout 等待扫码超时
	ErrScanTimeout = errors.New("等待扫码超时")
)

// Config 登录驱动配置
type Config struct {
	QRTimeout       time.Duration
	ScanTimeout     time.Duration
	RefreshInterval time.Duration
	CacheDir        string // 调试截图目录
	DebugArtifacts  bool
	Browser         browser.Options
}

func (c *Config) applyDefaults() {
	if c.QRTimeout <= 0 {
		c.QRTimeout = DefaultQRTimeout
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join("data", "cache")
	}
}

// Option 驱动选项
type Option func(*Driver)

// WithStateObserver 设置状态观察者
func WithStateObserver(o StateObserver) Option {
	return func(d *Driver) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithQrUploader 设置二维码上传器
func WithQrUploader(u QrUploader) Option {
	return func(d *Driver) {
		if u != nil {
			d.uploader = u
		}
	}
}

// Driver 公众号后台登录状态机
type Driver struct {
	cfg      Config
	auto     browser.Automation
	sessions *session.Manager
	lock     session.Locker
	observer StateObserver
	uploader QrUploader
	refresh  *RefreshManager

	// 进程内登录互斥,只用TryLock
	loginMu sync.Mutex

	mu          sync.RWMutex
	state       models.LoginState
	lastErr     string
	failure     error
	qrURL       string
	sess        *models.Session
	ext         map[string]string
	sessionID   string
	loginCancel context.CancelFunc

	wg sync.WaitGroup
}

// New 创建登录驱动
func New(cfg Config, auto browser.Automation, sessions *session.Manager, lock session.Locker, opts ...Option) *Driver {
	cfg.applyDefaults()
	d := &Driver{
		cfg:      cfg,
		auto:     auto,
		sessions: sessions,
		lock:     lock,
		observer: noopObserver{},
		uploader: noopUploader{},
		state:    models.StateIdle,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.refresh = NewRefreshManager(cfg.RefreshInterval, d.probeHome, d.IsLoggedIn, d.onSessionExpired, nil)
	return d
}

// GetState 当前可观测状态
func (d *Driver) GetState() models.StateSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return models.StateSnapshot{
		State:   d.state,
		Error:   d.lastErr,
		HasCode: d.qrURL != "",
		QRURL:   d.qrURL,
	}
}

// IsLoggedIn 状态为success即视为已登录
func (d *Driver) IsLoggedIn() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state == models.StateSuccess
}

// Session 内存中的会话副本
func (d *Driver) Session() *models.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sess.Clone()
}

// ExtData 账号扩展信息副本
func (d *Driver) ExtData() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.ext))
	for k, v := range d.ext {
		out[k] = v
	}
	return out
}

// SessionID 本次登录的会话ID
func (d *Driver) SessionID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessionID
}

// SessionManager 会话管理器
func (d *Driver) SessionManager() *session.Manager {
	return d.sessions
}

func (d *Driver) setState(state models.LoginState, errMsg string) {
	d.transition(state, errMsg, 0)
}

func (d *Driver) transition(state models.LoginState, errMsg string, expiresMinutes int) {
	d.mu.Lock()
	d.state = state
	d.lastErr = errMsg
	if state != models.StateFailed {
		d.failure = nil
	}
	qrURL := d.qrURL
	sid := d.sessionID
	d.mu.Unlock()

	log.Info().
		Str("state", string(state)).
		Bool("has_code", qrURL != "").
		Str("session_id", sid).
		Str("error", errMsg).
		Msg("[wx-state]")

	safeCall("state observer", func() { d.observer.OnStateChange(state, qrURL, errMsg, expiresMinutes) })
}

func (d *Driver) setQRURL(u string) {
	d.mu.Lock()
	d.qrURL = u
	d.mu.Unlock()
}

func (d *Driver) loginResult(msg string) models.LoginResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return models.LoginResult{Code: d.qrURL, IsExists: d.qrURL != "", Msg: msg}
}

// StartLogin 发起扫码登录,立即返回,登录流程在后台进行
func (d *Driver) StartLogin(callback LoginCallback, notice NoticeFunc) models.LoginResult {
	d.mu.RLock()
	fast := d.state == models.StateSuccess && session.IsValid(d.sess)
	d.mu.RUnlock()
	if fast {
		utils.Info("检测到会话仍有效, 无需重新扫码")
		return d.loginResult(msgSessionValid)
	}

	if !d.loginMu.TryLock() {
		utils.Warn("已有登录任务在进行中, 跳过本次调用")
		d.setState(models.StateWaiting, "")
		return d.loginResult(msgLoginInProgress)
	}

	if !d.lock.TryAcquire() {
		d.loginMu.Unlock()
		utils.Warnf("微信公众平台登录任务正在运行, 请勿重复运行 lock=%s", d.lock.Snapshot())
		d.setState(models.StateWaiting, "")
		return d.loginResult(msgLoginLocked)
	}

	d.setState(models.StateStarting, "")

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.loginCancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.runLogin(ctx, callback, notice)

	return d.loginResult("")
}

func (d *Driver) runLogin(ctx context.Context, callback LoginCallback, notice NoticeFunc) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("登录流程异常: %v", r)
			d.setState(models.StateFailed, fmt.Sprint(r))
		}
		if !d.lock.Release() {
			utils.Warnf("释放登录锁失败: %s", d.lock.Snapshot())
		}
		d.mu.Lock()
		d.loginCancel = nil
		d.mu.Unlock()
		d.loginMu.Unlock()
	}()

	if err := d.login(ctx, callback, notice); err != nil {
		utils.Error(err, "扫码登录失败")
		d.mu.Lock()
		d.failure = err
		d.mu.Unlock()
		d.setState(models.StateFailed, err.Error())
	}
}

// LastFailure 最近一次登录失败的原始错误,状态离开failed后清空
func (d *Driver) LastFailure() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.failure
}

func (d *Driver) login(ctx context.Context, callback LoginCallback, notice NoticeFunc) error {
	d.cleanupResources()

	if err := d.auto.StartBrowser(ctx, d.cfg.Browser); err != nil {
		return err
	}
	if err := d.auto.Open(ctx, LoginURL); err != nil {
		return err
	}
	if err := d.auto.WaitVisible(ctx, QRSelector, d.cfg.QRTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrQRNotReady, err)
	}
	if err := d.auto.WaitFunction(ctx, qrRenderedJS, d.cfg.QRTimeout); err != nil {
		return fmt.Errorf("%w: 二维码未完成渲染: %v", ErrQRNotReady, err)
	}

	png, err := d.auto.ElementScreenshot(QRSelector)
	if err != nil {
		return fmt.Errorf("二维码截图失败: %w", err)
	}
	if len(png) <= placeholderQRBytes {
		return fmt.Errorf("%w: 截图仅%d字节", ErrQRNotReady, len(png))
	}
	if d.cfg.DebugArtifacts {
		d.writeArtifact(fmt.Sprintf("qr-%d.png", utils.NowMillis()), png)
	}

	url, err := d.uploader.Upload(ctx, png)
	if err != nil {
		utils.Warnf("上传二维码失败: %v", err)
	}
	if url != "" {
		d.setQRURL(url)
		d.transition(models.StateQRReady, "", QRExpiresMinutes)
	}

	d.setState(models.StateWaiting, "")
	if notice != nil {
		safeCall("notice", notice)
	}

	if err := d.auto.WaitURLContains(ctx, HomeMarker, d.cfg.ScanTimeout); err != nil {
		d.captureTimeout()
		return fmt.Errorf("%w: %v", ErrScanTimeout, err)
	}

	utils.Info("扫码确认完成, 正在获取cookie")
	_, err = d.completeLogin(callback, true)
	return err
}

// completeLogin 从浏览器构建会话并持久化
func (d *Driver) completeLogin(callback LoginCallback, scheduleRefresh bool) (*models.Session, error) {
	cookies, err := d.auto.Cookies()
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	var qr *string
	if d.qrURL != "" {
		u := d.qrURL
		qr = &u
	}
	d.mu.RUnlock()

	sess := session.FormatSession(cookies, qr)
	ext := scrapeExtData(d.auto)
	sess.ExtData = ext

	if len(sess.Cookies) == 0 {
		d.setState(models.StateFailed, ErrNoCookies.Error())
		return nil, ErrNoCookies
	}

	d.mu.Lock()
	d.sess = sess
	d.ext = ext
	d.sessionID = uuid.New().String()
	d.mu.Unlock()

	d.sessions.SetLoggedIn(true)
	d.setState(models.StateSuccess, "")
	d.sessions.SavePersisted(sess)

	if expiry := sess.Expiry; expiry != nil {
		utils.Infof("登录成功, 会话过期时间: %s", expiry.HumanReadable)
	} else {
		utils.Info("登录成功")
	}

	if scheduleRefresh {
		d.refresh.Start()
	}

	if callback != nil {
		snapshot := sess.Clone()
		safeCall("login callback", func() { callback(snapshot, ext) })
	}
	return sess.Clone(), nil
}

// LoginWithToken 用持久化会话免扫码登录
// 需要重新扫码时返回的TokenResult.NeedLogin为true,此时已在后台发起扫码
func (d *Driver) LoginWithToken(ctx context.Context, callback LoginCallback) (*models.Session, *models.TokenResult, error) {
	persisted := d.sessions.LoadPersisted()
	if persisted == nil || len(persisted.Cookies) == 0 {
		utils.Warn("未找到可用的持久化会话, 请先扫码登录")
		return nil, d.needLogin(callback, MsgNoSessionRelogin), nil
	}

	handedOff := false
	defer func() {
		if !handedOff {
			d.auto.Cleanup()
		}
	}()

	if err := d.auto.StartBrowser(ctx, d.cfg.Browser); err != nil {
		return nil, nil, err
	}
	if cookies := session.NormalizeCookies(persisted.Cookies); len(cookies) > 0 {
		if err := d.auto.AddCookies(cookies); err != nil {
			return nil, nil, err
		}
	}
	if err := d.auto.Open(ctx, HomeURL); err != nil {
		return nil, nil, err
	}

	if err := d.auto.WaitURLPrefix(ctx, HomeURL, tokenLoginTimeout); err != nil {
		cur := d.auto.CurrentURL()
		if strings.Contains(cur, "mp.weixin.qq.com") && !strings.Contains(cur, "cgi-bin") {
			utils.Warn("持久化会话已失效, 需要重新扫码")
			d.setState(models.StateExpired, msgPersistedExpired)
			// 先关闭本次浏览器,扫码流程会重新启动
			d.auto.Cleanup()
			handedOff = true
			return nil, d.needLogin(callback, MsgSessionExpiredRelogin), nil
		}
		utils.Debugf("等待首页超时, 仍尝试读取会话: %v", err)
	}

	sess, err := d.completeLogin(callback, false)
	if err != nil {
		return nil, nil, err
	}
	return sess, nil, nil
}

func (d *Driver) needLogin(callback LoginCallback, msg string) *models.TokenResult {
	res := d.StartLogin(callback, nil)
	return &models.TokenResult{
		NeedLogin: true,
		Message:   msg,
		Code:      res.Code,
		IsExists:  res.IsExists,
	}
}

// probeHome 刷新已打开的后台页面
func (d *Driver) probeHome(ctx context.Context) (string, error) {
	if err := d.auto.Reload(ctx); err != nil {
		return "", fmt.Errorf("浏览器关闭: %w", err)
	}
	return d.auto.CurrentURL(), nil
}

func (d *Driver) onSessionExpired() {
	d.setState(models.StateExpired, msgLoginExpired)
	d.refresh.Stop()
	d.mu.Lock()
	d.sess = nil
	d.mu.Unlock()
	d.sessions.Clear()
}

// cleanupResources 停止保活并清理上一次登录的状态
func (d *Driver) cleanupResources() {
	d.refresh.Stop()
	d.setQRURL("")
	d.sessions.Clear()
}

// ResetSession 清空内存中的会话,不动持久化文件
func (d *Driver) ResetSession(reason string) {
	d.refresh.Stop()
	d.mu.Lock()
	d.sess = nil
	d.sessionID = ""
	d.qrURL = ""
	d.ext = nil
	d.mu.Unlock()
	d.sessions.Clear()
	d.setState(models.StateIdle, reason)
}

// Logout 退出登录并关闭浏览器
func (d *Driver) Logout(clearPersisted bool) {
	d.mu.RLock()
	cancel := d.loginCancel
	d.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	d.cleanupResources()
	if clearPersisted {
		d.sessions.ClearPersisted()
	}
	d.ResetSession("")
	d.auto.Cleanup()
}

// Wait 等待后台登录流程结束
func (d *Driver) Wait() {
	d.wg.Wait()
}

// RefreshManager 保活管理器
func (d *Driver) RefreshManager() *RefreshManager {
	return d.refresh
}

func (d *Driver) writeArtifact(name string, data []byte) {
	path := filepath.Join(d.cfg.CacheDir, name)
	if err := os.MkdirAll(d.cfg.CacheDir, 0755); err != nil {
		utils.Warnf("创建缓存目录失败: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		utils.Warnf("写入调试文件失败: %v", err)
		return
	}
	utils.Debugf("调试文件已保存: %s", path)
}

func (d *Driver) captureTimeout() {
	path := filepath.Join(d.cfg.CacheDir, fmt.Sprintf("login-timeout-%d.png", utils.NowMillis()))
	if err := d.auto.PageScreenshot(path); err != nil {
		utils.Warnf("超时截图失败: %v", err)
	}
	readyState, _ := d.auto.Eval(`() => document.readyState`)
	log.Warn().
		Str("url", utils.RedactURL(d.auto.CurrentURL())).
		Str("ready_state", readyState).
		Str("title", d.auto.Title()).
		Str("screenshot", path).
		Msg("等待扫码超时")
}
