package main

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/browser"
	"github.com/RecoveryAshes/wxgather/internal/core"
	"github.com/RecoveryAshes/wxgather/internal/driver"
	"github.com/RecoveryAshes/wxgather/internal/gather"
	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/queue"
	"github.com/RecoveryAshes/wxgather/internal/service"
	"github.com/RecoveryAshes/wxgather/internal/session"
	"github.com/RecoveryAshes/wxgather/internal/utils"
)

// app 一次命令执行所需的全部组件
type app struct {
	cfg      *core.Config
	guard    *browser.ResourceGuard
	driver   *driver.Driver
	queue    *queue.Queue
	svc      *service.Service
	bindings *service.Bindings
	closers  []func() error
}

// newApp 按配置组装登录驱动、文章抓取器、队列与门面
func newApp(ctx context.Context, cfg *core.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := session.NewStore(cfg.Session.StorePath(), cfg.Session.LicKey, cfg.Session.NoiseCookies)
	if err != nil {
		return nil, fmt.Errorf("创建会话存储失败: %w", err)
	}
	sessions := session.NewManager(store)

	lock, err := a.newLocker()
	if err != nil {
		return nil, err
	}

	headerManager, err := core.NewHeaderManager("", headers)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}
	extraHeaders, err := headerManager.GetHeaders()
	if err != nil {
		return nil, fmt.Errorf("加载HTTP头部失败: %w", err)
	}
	utils.Debugf("采集请求头: %v", headerManager.GetSafeHeaders())

	a.guard = browser.NewResourceGuard(browser.ResourceGuardConfig{
		SafetyReserveMB: cfg.Browser.SafetyReserveMB,
		CPUThreshold:    cfg.Browser.CPUThreshold,
	})

	a.bindings = service.BuildBindings(ctx, cfg.Hooks, cfg.Session.CacheDir(), func() string {
		if a.driver == nil {
			return ""
		}
		return a.driver.SessionID()
	})

	a.driver = driver.New(driver.Config{
		QRTimeout:       cfg.Login.QRTimeout,
		ScanTimeout:     cfg.Login.ScanTimeout,
		RefreshInterval: cfg.Login.RefreshInterval,
		CacheDir:        cfg.Session.CacheDir(),
		DebugArtifacts:  cfg.Login.DebugArtifacts,
		Browser: browser.Options{
			Headless:      cfg.Browser.Headless,
			BlockImages:   cfg.Browser.BlockImages,
			AntiDetection: cfg.Browser.AntiDetection,
		},
	}, browser.NewController(a.guard), sessions, lock,
		driver.WithQrUploader(a.bindings.Uploader),
		driver.WithStateObserver(a.bindings.Observer))

	// 文章抓取使用独立的浏览器,不干扰后台登录页
	fetcher := driver.NewArticleFetcher(browser.NewController(a.guard), sessions, cfg.Browser.Headless)

	a.queue = queue.New("gather", 0)
	opts := []service.Option{
		service.WithGatherConfig(gather.Config{
			BaseURL:        cfg.Gather.BaseURL,
			ConnectTimeout: cfg.Gather.ConnectTimeout,
			ReadTimeout:    cfg.Gather.ReadTimeout,
			Headers:        extraHeaders,
		}),
	}
	if a.bindings.Publisher != nil {
		opts = append(opts, service.WithPublisher(a.bindings.Publisher))
	}
	a.svc = service.New(a.driver, fetcher, a.queue, opts...)
	return a, nil
}

func (a *app) newLocker() (session.Locker, error) {
	ttl := a.cfg.Session.LockTTL
	if a.cfg.Session.LockBackend == "redis" {
		lock, err := session.NewRedisLockFromAddr(a.cfg.Session.RedisAddr, a.cfg.Session.RedisLockKey, ttl)
		if err != nil {
			return nil, fmt.Errorf("连接Redis锁失败: %w", err)
		}
		a.closers = append(a.closers, lock.Close)
		return lock, nil
	}
	if err := utils.EnsureDir(a.cfg.Session.DataDir); err != nil {
		return nil, err
	}
	return session.NewFileLock(a.cfg.Session.LockPath(), ttl), nil
}

// waitLogin 发起扫码登录并等待结束
func (a *app) waitLogin(ctx context.Context) error {
	notice := func() {
		st := a.driver.GetState()
		fmt.Printf("\n请使用微信扫描二维码登录公众号平台:\n  %s\n\n", st.QRURL)
	}
	onLogin := func(sess *models.Session, ext map[string]string) {
		utils.Infof("✅ 登录成功, cookies=%s", sess.CookieNames())
	}

	if err := printEnvelope(a.svc.GetQrCode(onLogin, notice)); err != nil {
		return err
	}
	timeout := a.cfg.Login.QRTimeout + a.cfg.Login.ScanTimeout + 30*time.Second
	return printEnvelope(a.svc.WaitUntilFinished(ctx, timeout, time.Second))
}

// Close 关闭浏览器并释放外部连接,保留持久化会话
func (a *app) Close() {
	a.svc.Shutdown()
	a.driver.Wait()
	a.guard.StopMonitoring()
	a.bindings.Close()
	for _, c := range a.closers {
		if err := c(); err != nil {
			utils.Warnf("释放资源失败: %v", err)
		}
	}
}
