package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/internal/exchange"
	"github.com/skalibog/bybit-mcp/internal/mcp"
	"github.com/skalibog/bybit-mcp/internal/monitor"
	"github.com/skalibog/bybit-mcp/internal/tools"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	root       string
	logFile    string
	logLevel   string
	testnet    bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "bybit-mcp",
		Short: "Сервер инструментов Bybit для ассистента",
		Long: `bybit-mcp принимает вызовы инструментов по JSON-RPC через stdin/stdout:
рыночные данные, анализ, сканирование, проверка сетапов, торговля и мониторинг позиций.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "config/config.yaml", "путь к файлу конфигурации")
	flags.StringVar(&opts.root, "root", ".", "корень проекта с .env и config/credentials.json")
	flags.StringVar(&opts.logFile, "log-file", "", "файл лога; по умолчанию из конфигурации")
	flags.StringVar(&opts.logLevel, "log-level", "", "уровень логирования: debug, info, warn, error")
	flags.BoolVar(&opts.testnet, "testnet", false, "использовать тестовую сеть Bybit")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Версия сервера",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := config.Default()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.Server.Name, cfg.Server.Version)
		},
	}
}

func run(parent context.Context, opts options) error {
	// до инициализации логгера сообщения конфигурации не пишутся
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	logOpts := logger.Options{File: cfg.Log.File, Level: cfg.Log.Level, Stderr: cfg.Log.Stderr}
	if opts.logFile != "" {
		logOpts.File = opts.logFile
	}
	if opts.logLevel != "" {
		logOpts.Level = opts.logLevel
	}
	if err := logger.Init(logOpts); err != nil {
		return fmt.Errorf("ошибка инициализации логгера: %w", err)
	}
	defer logger.Sync()

	creds, err := config.LoadCredentials(opts.root)
	if err != nil {
		logger.Fatal("Ключи API не загружены", zap.Error(err))
	}
	if opts.testnet {
		creds.Testnet = true
	}
	logger.Info("Ключи API загружены", zap.String("source", creds.Source), zap.Bool("testnet", creds.Testnet))

	client := exchange.NewClient(cfg.Exchange, creds)
	toolbox := tools.New(cfg, client, func() monitor.PositionSource {
		return client.NewPositionStream()
	})
	defer toolbox.Shutdown()

	registry := mcp.NewRegistry()
	if err := toolbox.Register(registry); err != nil {
		return fmt.Errorf("ошибка регистрации инструментов: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Сервер запущен",
		zap.String("name", cfg.Server.Name),
		zap.String("version", cfg.Server.Version),
		zap.Int("tools", registry.Len()))

	server := mcp.NewServer(cfg.Server, registry)
	err = server.Serve(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Сервер завершился с ошибкой", zap.Error(err))
		return err
	}

	logger.Info("Сервер остановлен")
	return nil
}
