package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradesync/internal/app"
	"github.com/betbot/tradesync/internal/domain"
	"github.com/betbot/tradesync/pkg/config"
	"github.com/betbot/tradesync/pkg/logger"
	"github.com/betbot/tradesync/pkg/shutdown"
)

func main() {
	// .env 尽力加载，缺失时使用真实环境变量
	_ = godotenv.Load()

	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	env, err := app.Open(cfg)
	if err != nil {
		logrus.Fatalf("创建环境失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := env.Bootstrap(ctx); err != nil {
		logrus.Warnf("恢复会话失败: %v", err)
	}
	if !env.Session.IsAuthenticated() {
		email, password := os.Getenv("TRADESYNC_EMAIL"), os.Getenv("TRADESYNC_PASSWORD")
		if email == "" || password == "" {
			logrus.Warn("没有可恢复的会话，且未设置 TRADESYNC_EMAIL/TRADESYNC_PASSWORD，仅同步公开订单簿")
		} else if _, err := env.Session.Login(ctx, email, password); err != nil {
			logrus.Errorf("❌ 登录失败: %v", err)
		}
	}

	symbols := make([]domain.Symbol, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, domain.Symbol(s))
	}
	if err := env.Refresh(ctx, symbols...); err != nil {
		logrus.Warnf("初始同步不完整: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		watchUpdates(ctx, env)
	}()

	manager := shutdown.NewManager()
	manager.OnShutdown("watcher", func(_ context.Context, done *sync.WaitGroup) {
		defer done.Done()
		cancel()
		wg.Wait()
	})
	manager.OnShutdown("environment", func(_ context.Context, done *sync.WaitGroup) {
		defer done.Done()
		if err := env.Close(); err != nil {
			logrus.Warnf("关闭环境失败: %v", err)
		}
	})

	shutdown.WaitForSignal(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if pending := manager.Shutdown(shutdownCtx); len(pending) > 0 {
		logrus.Warnf("以下组件未在期限内关闭: %s", strings.Join(pending, ","))
	}
	logrus.Info("tradesync stopped")
}

// watchUpdates 缓存变化时输出摘要
func watchUpdates(ctx context.Context, env *app.Environment) {
	orders := env.Orders.Updated()
	books := env.Books.Updated()
	profile := env.Profile.Updated()

	for {
		select {
		case <-ctx.Done():
			return
		case <-orders:
			open := 0
			for _, o := range env.Orders.Orders() {
				if o.IsOpen() {
					open++
				}
			}
			logrus.WithFields(logrus.Fields{"total": len(env.Orders.Orders()), "open": open}).Info("用户订单已更新")
		case <-books:
			for _, sym := range env.Books.Symbols() {
				book, _ := env.Books.Book(sym)
				logrus.WithFields(logrus.Fields{"symbol": sym, "buy": len(book.Buy), "sell": len(book.Sell)}).Info("订单簿已更新")
			}
		case <-profile:
			fields := logrus.Fields{"realtime": env.Realtime.State().String()}
			if user := env.Session.User(); user != nil {
				fields["balance"] = user.Balance.String()
			}
			logrus.WithFields(fields).Infof("资产已更新（%d 个币种）", len(env.Profile.Assets()))
		}
	}
}
