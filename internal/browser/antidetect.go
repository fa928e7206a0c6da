package browser

import (
	"context"
	"math/rand"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/utils"
)

const (
	// AcceptLanguage 浏览器请求语言
	AcceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8"

	// MobileWidth/MobileHeight 移动端视口(iPhone X)
	MobileWidth  = 375
	MobileHeight = 812

	minViewportWidth  = 1200
	maxViewportWidth  = 1920
	minViewportHeight = 800
	maxViewportHeight = 1080
)

var desktopUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36 Edg/121.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

var mobileUserAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 MicroMessenger/8.0.47(0x18002f2c) NetType/WIFI Language/zh_CN",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 MicroMessenger/8.0.44(0x18002c2d) NetType/4G Language/zh_CN",
	"Mozilla/5.0 (Linux; Android 13; SM-S9180 Build/TP1A.220624.014; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/116.0.0.0 Mobile Safari/537.36 XWEB/1160065 MMWEBSDK/20231202 MicroMessenger/8.0.47.2560(0x28002F36) WeChat/arm64 Weixin NetType/WIFI Language/zh_CN",
}

// 在页面脚本执行前隐藏自动化特征
const hideWebdriverScript = `() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'languages', { get: () => ['zh-CN', 'zh', 'en'] });
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
	window.chrome = window.chrome || { runtime: {} };
}`

// RandomUserAgent 随机选择UA
func RandomUserAgent(mobile bool) string {
	pool := desktopUserAgents
	if mobile {
		pool = mobileUserAgents
	}
	return pool[rand.Intn(len(pool))]
}

// RandomViewport 随机桌面视口
func RandomViewport() (width, height int) {
	return utils.RandomBetween(minViewportWidth, maxViewportWidth),
		utils.RandomBetween(minViewportHeight, maxViewportHeight)
}

// HumanDelay 模拟人工操作间隔(50-200ms)
func HumanDelay(ctx context.Context) error {
	d := time.Duration(utils.RandomBetween(50, 200)) * time.Millisecond
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
