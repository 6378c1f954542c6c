package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/wabridge/internal/account"
	"github.com/matheus3301/wabridge/internal/config"
	"github.com/matheus3301/wabridge/internal/daemon"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.wabridge/config.toml)")
	httpFlag := flag.String("http", "", "HTTP listen address (overrides config)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = account.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if *httpFlag != "" {
		cfg.HTTP.Listen = *httpFlag
	}

	accountName := *accountFlag
	if accountName == "" {
		accountName = cfg.DefaultAccount
	}
	if accountName == "" {
		accountName = account.DefaultName
	}
	if err := account.ValidateName(accountName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{AccountName: accountName, Config: cfg}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	)

	app.Run()
}
