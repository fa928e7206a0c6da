package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/browser"
	"github.com/RecoveryAshes/wxgather/internal/models"
)

// fakeAutomation 内存中的浏览器替身
type fakeAutomation struct {
	mu sync.Mutex

	url        string
	redirect   string // 非空时Open停在该地址
	reloadURL  string
	title      string
	html       string
	body       string
	evalResult string
	qrPNG      []byte
	cookies    []models.Cookie
	added      []models.Cookie

	startErr     error
	waitURLErr   error
	waitPrefixOK bool
	release      chan struct{} // 非nil时WaitURLContains阻塞到关闭

	starts   int
	cleanups int
	running  bool
}

func newFakeAutomation() *fakeAutomation {
	return &fakeAutomation{
		qrPNG:        make([]byte, 1024),
		reloadURL:    HomeURL + "?t=home/index&token=123",
		waitPrefixOK: true,
		cookies: []models.Cookie{
			models.NewCookie("slave_sid", "sid"),
			models.NewCookie("data_ticket", "ticket"),
		},
	}
}

func (f *fakeAutomation) StartBrowser(ctx context.Context, opts browser.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeAutomation) Open(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	if f.redirect != "" {
		f.url = f.redirect
	}
	return nil
}

func (f *fakeAutomation) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (f *fakeAutomation) WaitFunction(ctx context.Context, js string, timeout time.Duration) error {
	return nil
}

func (f *fakeAutomation) WaitURLContains(ctx context.Context, marker string, timeout time.Duration) error {
	f.mu.Lock()
	release := f.release
	err := f.waitURLErr
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.url = HomeURL + "?t=home/index&token=123"
	f.mu.Unlock()
	return nil
}

func (f *fakeAutomation) WaitURLPrefix(ctx context.Context, prefix string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.waitPrefixOK {
		return context.DeadlineExceeded
	}
	f.url = prefix + "?t=home/index&token=123"
	return nil
}

func (f *fakeAutomation) Reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return errors.New("page closed")
	}
	f.url = f.reloadURL
	return nil
}

func (f *fakeAutomation) ElementScreenshot(selector string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.qrPNG, nil
}

func (f *fakeAutomation) PageScreenshot(path string) error { return nil }

func (f *fakeAutomation) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *fakeAutomation) Title() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title
}

func (f *fakeAutomation) Cookies() ([]models.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Cookie(nil), f.cookies...), nil
}

func (f *fakeAutomation) AddCookies(cookies []models.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, cookies...)
	return nil
}


func (f *fakeAutomation) Text(selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.body, nil
}

func (f *fakeAutomation) Attr(selector, name string) (string, error) { return "", nil }

func (f *fakeAutomation) HTML(selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.html, nil
}

func (f *fakeAutomation) Eval(js string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evalResult, nil
}

func (f *fakeAutomation) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeAutomation) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	f.running = false
}

func (f *fakeAutomation) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeAutomation) set(fn func(f *fakeAutomation)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
