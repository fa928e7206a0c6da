package driver

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/session"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	states []models.LoginState
}

func (r *recorder) OnStateChange(state models.LoginState, qrURL, errMsg string, expiresMinutes int) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *recorder) seen(s models.LoginState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.states {
		if st == s {
			return true
		}
	}
	return false
}

type staticUploader string

func (u staticUploader) Upload(_ context.Context, png []byte) (string, error) {
	return string(u), nil
}

type testEnv struct {
	driver   *Driver
	auto     *fakeAutomation
	sessions *session.Manager
	lockPath string
	rec      *recorder
}

func newTestEnv(t *testing.T, interval time.Duration) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := session.NewStore(filepath.Join(dir, "wx.lic"), "test-key", []string{"_clck"})
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{
		auto:     newFakeAutomation(),
		sessions: session.NewManager(store),
		lockPath: filepath.Join(dir, ".lock"),
		rec:      &recorder{},
	}
	env.driver = New(Config{
		RefreshInterval: interval,
		CacheDir:        filepath.Join(dir, "cache"),
	}, env.auto, env.sessions, session.NewFileLock(env.lockPath, 10*time.Minute),
		WithStateObserver(env.rec), WithQrUploader(staticUploader("https://qr.example.com/1.png")))
	t.Cleanup(func() {
		env.driver.Logout(false)
		env.driver.Wait()
	})
	return env
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", desc)
}

func TestStartLogin_Success(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	var (
		mu      sync.Mutex
		gotSess *models.Session
		noticed bool
	)
	res := env.driver.StartLogin(func(s *models.Session, ext map[string]string) {
		mu.Lock()
		gotSess = s
		mu.Unlock()
	}, func() {
		mu.Lock()
		noticed = true
		mu.Unlock()
	})
	if res.Msg != "" {
		t.Errorf("首次调用不应带提示, got %q", res.Msg)
	}

	env.driver.Wait()

	st := env.driver.GetState()
	if st.State != models.StateSuccess {
		t.Fatalf("state = %s, error = %s", st.State, st.Error)
	}
	if !st.HasCode || st.QRURL != "https://qr.example.com/1.png" {
		t.Errorf("二维码信息不正确: %+v", st)
	}
	for _, s := range []models.LoginState{models.StateStarting, models.StateQRReady, models.StateWaiting} {
		if !env.rec.seen(s) {
			t.Errorf("未观察到状态 %s", s)
		}
	}

	mu.Lock()
	if gotSess == nil || gotSess.CookiesHeader != "slave_sid=sid; data_ticket=ticket" {
		t.Errorf("回调会话不正确: %+v", gotSess)
	}
	if !noticed {
		t.Error("notice 未被调用")
	}
	mu.Unlock()

	if !env.sessions.LoggedIn() {
		t.Error("登录标记未设置")
	}
	if env.sessions.LoadPersisted() == nil {
		t.Error("会话未持久化")
	}
	if env.driver.SessionID() == "" {
		t.Error("会话ID为空")
	}
	if !env.driver.RefreshManager().Scheduled() {
		t.Error("登录成功后应安排保活")
	}
	if session.NewFileLock(env.lockPath, time.Minute).IsLocked() {
		t.Error("登录结束后文件锁未释放")
	}
}

func TestStartLogin_FastPath(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.driver.StartLogin(nil, nil)
	env.driver.Wait()

	starts := env.auto.startCount()
	res := env.driver.StartLogin(nil, nil)
	if res.Msg != msgSessionValid {
		t.Errorf("msg = %q, want %q", res.Msg, msgSessionValid)
	}
	if !res.IsExists {
		t.Error("快速路径应返回当前二维码")
	}
	if env.auto.startCount() != starts {
		t.Error("快速路径不应启动浏览器")
	}
	if session.NewFileLock(env.lockPath, time.Minute).IsLocked() {
		t.Error("快速路径不应获取文件锁")
	}
}

func TestStartLogin_IdempotentWhileWaiting(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	release := make(chan struct{})
	env.auto.set(func(f *fakeAutomation) { f.release = release })

	env.driver.StartLogin(nil, nil)
	waitFor(t, "进入waiting", func() bool { return env.driver.GetState().State == models.StateWaiting })

	res := env.driver.StartLogin(nil, nil)
	if res.Msg != msgLoginInProgress {
		t.Errorf("msg = %q, want %q", res.Msg, msgLoginInProgress)
	}
	if env.driver.GetState().State != models.StateWaiting {
		t.Errorf("state = %s", env.driver.GetState().State)
	}
	if env.auto.startCount() != 1 {
		t.Errorf("浏览器启动次数 = %d, want 1", env.auto.startCount())
	}

	close(release)
	env.driver.Wait()
	if env.driver.GetState().State != models.StateSuccess {
		t.Errorf("state = %s", env.driver.GetState().State)
	}
}

func TestStartLogin_CrossProcessLockBusy(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	other := session.NewFileLock(env.lockPath, 10*time.Minute)
	if !other.TryAcquire() {
		t.Fatal("预先加锁失败")
	}

	res := env.driver.StartLogin(nil, nil)
	if res.Msg != msgLoginLocked {
		t.Errorf("msg = %q, want %q", res.Msg, msgLoginLocked)
	}
	if env.driver.GetState().State != models.StateWaiting {
		t.Errorf("state = %s", env.driver.GetState().State)
	}
	if env.auto.startCount() != 0 {
		t.Error("锁被占用时不应启动浏览器")
	}

	// 进程内互斥已释放,锁释放后可再次发起
	if !other.Release() {
		t.Fatal("释放失败")
	}
	env.driver.StartLogin(nil, nil)
	env.driver.Wait()
	if env.driver.GetState().State != models.StateSuccess {
		t.Errorf("state = %s", env.driver.GetState().State)
	}
}

func TestStartLogin_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fakeAutomation)
		wantErr string
	}{
		{"占位二维码", func(f *fakeAutomation) { f.qrPNG = make([]byte, placeholderQRBytes) }, ErrQRNotReady.Error()},
		{"浏览器启动失败", func(f *fakeAutomation) { f.startErr = errors.New("launch failed") }, "launch failed"},
		{"扫码超时", func(f *fakeAutomation) { f.waitURLErr = errors.New("timeout") }, ErrScanTimeout.Error()},
		{"没有cookie", func(f *fakeAutomation) { f.cookies = nil }, ErrNoCookies.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, time.Hour)
			env.auto.set(tt.setup)

			env.driver.StartLogin(nil, nil)
			env.driver.Wait()

			st := env.driver.GetState()
			if st.State != models.StateFailed {
				t.Fatalf("state = %s, want failed", st.State)
			}
			if !strings.Contains(st.Error, tt.wantErr) {
				t.Errorf("error = %q, want contains %q", st.Error, tt.wantErr)
			}
			if session.NewFileLock(env.lockPath, time.Minute).IsLocked() {
				t.Error("失败后文件锁未释放")
			}
		})
	}
}

func TestRefresh_ExpiredKeepAlive(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond)
	env.driver.StartLogin(nil, nil)
	env.driver.Wait()
	if env.driver.GetState().State != models.StateSuccess {
		t.Fatalf("state = %s", env.driver.GetState().State)
	}

	env.auto.set(func(f *fakeAutomation) { f.reloadURL = LoginURL })

	waitFor(t, "会话过期", func() bool { return env.driver.GetState().State == models.StateExpired })

	st := env.driver.GetState()
	if st.Error != msgLoginExpired {
		t.Errorf("error = %q", st.Error)
	}
	waitFor(t, "定时器取消", func() bool { return !env.driver.RefreshManager().Scheduled() })
	if env.driver.Session() != nil {
		t.Error("内存会话未清除")
	}
	if env.sessions.LoggedIn() {
		t.Error("登录标记未清除")
	}
	if env.driver.IsLoggedIn() {
		t.Error("过期后不应视为已登录")
	}
}

func TestLoginWithToken(t *testing.T) {
	t.Run("没有持久化会话", func(t *testing.T) {
		env := newTestEnv(t, time.Hour)
		env.auto.set(func(f *fakeAutomation) { f.qrPNG = nil })

		sess, res, err := env.driver.LoginWithToken(context.Background(), nil)
		env.driver.Wait()
		if err != nil || sess != nil {
			t.Fatalf("sess=%v err=%v", sess, err)
		}
		if res == nil || !res.NeedLogin {
			t.Fatalf("应返回need_login: %+v", res)
		}
		if res.Message != MsgNoSessionRelogin {
			t.Errorf("message = %q", res.Message)
		}
	})

	t.Run("持久化会话有效", func(t *testing.T) {
		env := newTestEnv(t, time.Hour)
		env.sessions.SavePersisted(&models.Session{Cookies: []models.Cookie{models.NewCookie("slave_sid", "old")}})

		sess, res, err := env.driver.LoginWithToken(context.Background(), nil)
		if err != nil || res != nil {
			t.Fatalf("res=%+v err=%v", res, err)
		}
		if sess == nil || len(sess.Cookies) == 0 {
			t.Fatal("应返回会话")
		}
		if env.driver.GetState().State != models.StateSuccess {
			t.Errorf("state = %s", env.driver.GetState().State)
		}
		if env.driver.RefreshManager().Scheduled() {
			t.Error("免扫码登录不安排保活")
		}
		env.auto.mu.Lock()
		added := len(env.auto.added)
		cleaned := env.auto.cleanups
		env.auto.mu.Unlock()
		if added == 0 {
			t.Error("未注入持久化cookie")
		}
		if cleaned == 0 {
			t.Error("浏览器未关闭")
		}
	})

	t.Run("持久化会话失效", func(t *testing.T) {
		env := newTestEnv(t, time.Hour)
		env.sessions.SavePersisted(&models.Session{Cookies: []models.Cookie{models.NewCookie("slave_sid", "old")}})
		// cookie失效时首页被重定向回登录页
		env.auto.set(func(f *fakeAutomation) {
			f.waitPrefixOK = false
			f.redirect = LoginURL
			f.qrPNG = nil
		})

		sess, res, err := env.driver.LoginWithToken(context.Background(), nil)
		env.driver.Wait()
		if err != nil || sess != nil {
			t.Fatalf("sess=%v err=%v", sess, err)
		}
		if res == nil || !res.NeedLogin || res.Message != MsgSessionExpiredRelogin {
			t.Fatalf("res = %+v", res)
		}
		if !env.rec.seen(models.StateExpired) {
			t.Error("未进入expired状态")
		}
	})
}

func TestResetSessionAndLogout(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.driver.StartLogin(nil, nil)
	env.driver.Wait()

	env.driver.ResetSession("手动重置")
	st := env.driver.GetState()
	if st.State != models.StateIdle || st.Error != "手动重置" || st.HasCode {
		t.Errorf("重置后状态不正确: %+v", st)
	}
	if env.driver.Session() != nil || env.driver.SessionID() != "" {
		t.Error("内存会话未清除")
	}
	if env.sessions.LoadPersisted() == nil {
		t.Error("ResetSession 不应清除持久化会话")
	}

	env.driver.Logout(true)
	if env.sessions.LoadPersisted() != nil {
		t.Error("Logout(true) 应清除持久化会话")
	}
	if env.auto.Running() {
		t.Error("Logout 应关闭浏览器")
	}
}

func TestObserverPanicSwallowed(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.driver.observer = ObserverFunc(func(models.LoginState, string, string, int) { panic("boom") })

	env.driver.StartLogin(func(*models.Session, map[string]string) { panic("callback") }, nil)
	env.driver.Wait()
	if env.driver.GetState().State != models.StateSuccess {
		t.Errorf("钩子异常不应影响登录: %s", env.driver.GetState().State)
	}
}

func TestParseExtData(t *testing.T) {
	html := `<html><body>
		<div class="weui-desktop_name"> 测试公众号 </div>
		<img class="weui-desktop-account__img" src="https://mmbiz.qpic.cn/logo.png">
		<div class="original_cnt"><span>12</span></div>
	</body></html>`

	data := parseExtData(html)
	want := map[string]string{
		"wx_app_name":   "测试公众号",
		"wx_logo":       "https://mmbiz.qpic.cn/logo.png",
		"wx_yuan_count": "12",
		"wx_user_count": "",
	}
	for k, v := range want {
		if data[k] != v {
			t.Errorf("%s = %q, want %q", k, data[k], v)
		}
	}
	if len(data) != len(extDataSelectors) {
		t.Errorf("应包含全部%d项, got %d", len(extDataSelectors), len(data))
	}
}
