package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/core"
	"github.com/RecoveryAshes/wxgather/internal/gather"
	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/queue"
	"github.com/RecoveryAshes/wxgather/internal/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	envFile    string
	verbose    bool
	logLevel   string
	headers    []string // 自定义HTTP请求头
	headless   bool

	// 采集参数
	gatherMode  string
	fakeID      string
	mpID        string
	mpName      string
	feedsFile   string
	maxPage     int
	startPage   int
	interval    int
	withContent bool

	// 搜索参数
	searchLimit  int
	searchOffset int

	// 其他
	urlFile       string
	clearOnLogout bool
	serveInterval time.Duration
)

// 由PersistentPreRunE加载
var (
	appConfig *core.Config
	appViper  *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "wxgather",
	Short: "微信公众号平台登录与文章采集工具",
	Long: `wxgather - 微信公众号平台扫码登录与文章采集工具

支持:
  • 扫码登录并持久化会话,自动保活
  • 从持久化会话恢复登录
  • api/app/web 三种文章列表采集模式
  • 单篇文章抓取与公众号搜索
  • 按间隔定时采集 (serve)

示例:
  wxgather login
  wxgather gather --fakeid MzA5MTY0NjE1MQ== --max-page 3
  wxgather fetch https://mp.weixin.qq.com/s/xxxx

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnv(); err != nil {
			return err
		}

		config, v, err := core.LoadConfigWithViper(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		if cmd.Flags().Changed("headless") {
			config.Browser.Headless = headless
		}
		appConfig, appViper = config, v

		logConfig := utils.LogConfig{
			Level:      config.Logging.Level,
			LogDir:     config.Logging.LogDir,
			MaxSize:    config.Logging.Rotation.MaxSize,
			MaxBackups: config.Logging.Rotation.MaxBackups,
			MaxAge:     config.Logging.Rotation.MaxAge,
			Compress:   config.Logging.Rotation.Compress,
		}
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose && logLevel == "" {
			logConfig.Level = "debug"
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		if verbose {
			utils.Info("详细模式已启用")
		}
		return nil
	},
}

// loadEnv 加载 .env,默认文件不存在时忽略
func loadEnv() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("加载环境变量文件失败: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}
	return nil
}

// withApp 组装组件,命令结束后关闭浏览器
func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, appConfig)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, args)
	}
}

// printEnvelope 输出结果,失败时返回错误以设置退出码
func printEnvelope(env models.Envelope) error {
	data, err := env.ToJSON()
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if !env.OK && env.Error != nil {
		return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
	}
	return nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "扫码登录公众号平台",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return a.waitLogin(ctx)
	}),
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "从持久化会话恢复登录,失效时转为扫码登录",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		env := a.svc.LoginWithToken(ctx, nil)
		if env.OK {
			return printEnvelope(env)
		}
		utils.Warnf("会话恢复失败: %s", env.Error.Reason)
		// 已自动发起扫码登录,等待结果
		return printEnvelope(a.svc.WaitUntilFinished(ctx, a.cfg.Login.QRTimeout+a.cfg.Login.ScanTimeout, time.Second))
	}),
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "显示登录状态",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return printEnvelope(a.svc.GetState())
	}),
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "显示会话信息",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return printEnvelope(a.svc.GetSessionInfo())
	}),
}

var cookieCmd = &cobra.Command{
	Use:   "cookie",
	Short: "输出持久化会话的Cookie头",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return printEnvelope(a.svc.GetCookieHeader())
	}),
}

var gatherCmd = &cobra.Command{
	Use:   "gather",
	Short: "采集公众号文章列表",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if fakeID == "" && feedsFile == "" {
			feedsFile = a.cfg.Gather.FeedsFile
		}
		if err := ValidateGatherFlags(gatherMode, maxPage, interval, fakeID, feedsFile); err != nil {
			return err
		}
		a.cfg.MergeCLIFlags(gatherMode, maxPage, interval, a.cfg.Browser.Headless, withContent)

		feeds, err := cliFeeds()
		if err != nil {
			return err
		}
		return runGather(ctx, a, feeds)
	}),
}

// cliFeeds --fakeid 优先,否则读取列表文件
func cliFeeds() ([]models.Feed, error) {
	if fakeID != "" {
		id := mpID
		if id == "" {
			id = feedMpID(fakeID)
		}
		return []models.Feed{{ID: id, FakerID: fakeID, MpName: mpName}}, nil
	}
	return loadFeeds(feedsFile)
}

func feedRequest(cfg *core.Config, f models.Feed) gather.Request {
	return gather.Request{
		FakeID:        f.FakerID,
		MpID:          f.ID,
		MpTitle:       f.MpName,
		StartPage:     startPage,
		MaxPage:       cfg.Gather.MaxPage,
		Interval:      cfg.Gather.Interval,
		GatherContent: cfg.Gather.GatherContent,
	}
}

// runGather 依次采集并生成报告
func runGather(ctx context.Context, a *app, feeds []models.Feed) error {
	mode := models.GatherMode(a.cfg.Gather.Mode)
	reporter := utils.NewReporter(a.cfg.Gather.ReportDir, uuid.NewString(), mode)
	bar := utils.NewProgressBar(len(feeds)*a.cfg.Gather.MaxPage, "采集公众号")

	for _, f := range feeds {
		if ctx.Err() != nil {
			break
		}
		req := feedRequest(a.cfg, f)
		req.OnPage = func(int) { bar.Add(1) }

		articles, err := a.svc.Gather(ctx, mode, req)
		if err != nil {
			utils.Errorf("采集失败 [%s]: %v", f.MpName, err)
			reporter.AddError(f.ID, err)
			continue
		}
		reporter.AddFeed(f.ID, f.MpName, len(articles))
		for _, art := range articles {
			utils.Debugf("  %s %s", art.ID, art.Title)
		}
	}
	bar.Finish()

	path, err := reporter.GenerateReport()
	if err != nil {
		return fmt.Errorf("生成报告失败: %w", err)
	}

	stats := reporter.Report().Stats
	fmt.Println("\n==================================================")
	fmt.Println("📊 采集统计")
	fmt.Println("==================================================")
	fmt.Printf("✅ 公众号数: %d\n", stats.Feeds)
	fmt.Printf("✅ 文章数: %d\n", stats.Articles)
	fmt.Printf("❌ 失败: %d\n", stats.Failed)
	fmt.Printf("⏱️  总耗时: %.2f秒\n", stats.Duration)
	fmt.Printf("📄 报告: %s\n", path)
	fmt.Println("==================================================")
	return nil
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "抓取单篇文章",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		var urls []string
		if len(args) == 1 {
			urls = append(urls, args[0])
		}
		if urlFile != "" {
			list, err := utils.ReadURLsFromFile(urlFile)
			if err != nil {
				return fmt.Errorf("读取URL文件失败: %w", err)
			}
			urls = append(urls, list...)
		}
		if len(urls) == 0 {
			return fmt.Errorf("需要文章链接或 --url-file")
		}

		var failed int
		for _, u := range urls {
			if err := ValidateArticleURL(u); err != nil {
				return err
			}
			if err := printEnvelope(a.svc.FetchArticle(ctx, u)); err != nil {
				utils.Warnf("抓取失败 %s: %v", utils.RedactURL(u), err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d 篇文章抓取失败", failed)
		}
		return nil
	}),
}

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "搜索公众号,获取fakeid",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if err := ValidateSearchFlags(args[0], searchLimit, searchOffset); err != nil {
			return err
		}
		return printEnvelope(a.svc.SearchBiz(ctx, args[0], searchLimit, searchOffset))
	}),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "退出登录并关闭浏览器",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return printEnvelope(a.svc.Logout(clearOnLogout))
	}),
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "清除持久化会话",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return printEnvelope(a.svc.ClearSession("cleared by cli"))
	}),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "常驻运行,按间隔定时采集",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if feedsFile == "" {
			feedsFile = a.cfg.Gather.FeedsFile
		}

		if env := a.svc.LoginWithToken(ctx, nil); !env.OK {
			utils.Warnf("会话不可用(%s), 请扫码登录", env.Error.Reason)
			if err := printEnvelope(a.svc.WaitUntilFinished(ctx, a.cfg.Login.QRTimeout+a.cfg.Login.ScanTimeout, time.Second)); err != nil {
				return err
			}
		}

		a.guard.StartMonitoring(5 * time.Second)
		scheduler := queue.NewScheduler(a.queue)
		defer scheduler.Stop()

		if err := scheduleFeeds(a, scheduler); err != nil {
			return err
		}

		appViper.OnConfigChange(func(e fsnotify.Event) {
			utils.Infof("配置文件变更: %s (%s)", e.Name, e.Op)
			cfg, err := core.Decode(appViper)
			if err != nil {
				utils.Warnf("重新加载配置失败: %v", err)
				return
			}
			a.cfg.Gather = cfg.Gather
			if err := scheduleFeeds(a, scheduler); err != nil {
				utils.Warnf("重新调度失败: %v", err)
			}
		})
		if appViper.ConfigFileUsed() != "" {
			appViper.WatchConfig()
		}

		utils.Info("✨ 服务已启动, Ctrl+C 退出")
		<-ctx.Done()
		utils.Warn("收到中断信号, 正在优雅关闭...")
		return nil
	}),
}

// scheduleFeeds 按公众号列表重建调度
func scheduleFeeds(a *app, scheduler *queue.Scheduler) error {
	feeds, err := cliFeeds()
	if err != nil {
		return err
	}

	active := make(map[string]bool, len(feeds))
	mode := models.GatherMode(a.cfg.Gather.Mode)
	for _, f := range feeds {
		every := serveInterval
		if f.Interval > 0 {
			every = time.Duration(f.Interval) * time.Second
		}
		name := "gather:" + f.ID
		active[name] = true

		req := feedRequest(a.cfg, f)
		scheduler.Schedule(name, every, true, func(ctx context.Context) error {
			articles, err := a.svc.Gather(ctx, mode, req)
			if err == nil {
				utils.Infof("[%s] 本次采集 %d 篇", f.MpName, len(articles))
			}
			return err
		})
	}
	for _, name := range scheduler.Scheduled() {
		if !active[name] {
			scheduler.Unschedule(name)
		}
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wxgather %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "环境变量文件 (默认 .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "无头浏览器模式")

	// 采集参数
	for _, cmd := range []*cobra.Command{gatherCmd, serveCmd} {
		cmd.Flags().StringVarP(&gatherMode, "mode", "m", "", "采集模式 (api|app|web)")
		cmd.Flags().StringVar(&fakeID, "fakeid", "", "公众号fakeid")
		cmd.Flags().StringVar(&mpID, "mp-id", "", "公众号ID (默认 MP_WXS_<fakeid>)")
		cmd.Flags().StringVar(&mpName, "name", "", "公众号名称")
		cmd.Flags().StringVarP(&feedsFile, "feeds", "f", "", "公众号列表文件 (yaml)")
		cmd.Flags().IntVar(&maxPage, "max-page", 0, "最大采集页数")
		cmd.Flags().IntVar(&startPage, "start-page", 0, "起始页")
		cmd.Flags().IntVar(&interval, "interval", -1, "翻页随机间隔上限(秒)")
		cmd.Flags().BoolVar(&withContent, "content", false, "同时采集文章正文")
	}
	serveCmd.Flags().DurationVar(&serveInterval, "every", time.Hour, "默认采集间隔")

	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "每页数量")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "偏移量")

	fetchCmd.Flags().StringVar(&urlFile, "url-file", "", "包含文章链接列表的文件路径")
	logoutCmd.Flags().BoolVar(&clearOnLogout, "clear", false, "同时清除持久化会话")

	rootCmd.AddCommand(loginCmd, tokenCmd, stateCmd, sessionCmd, cookieCmd, gatherCmd,
		fetchCmd, searchCmd, logoutCmd, clearCmd, serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
