package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"quickchat/internal/adapter/exchange"
	"quickchat/internal/adapter/page/browser"
	"quickchat/internal/adapter/page/jsvm"
	"quickchat/internal/domain"
	"quickchat/internal/infra/config"
	"quickchat/internal/infra/logger"
	"quickchat/internal/infra/tracer"
	"quickchat/internal/usecase/chat"
	"quickchat/internal/usecase/embed"
	"quickchat/internal/usecase/eventbus"
	"quickchat/internal/usecase/scriptloader"
	"quickchat/internal/usecase/view"
)

// loadConfig resolves the config for flags. --env and --api win over the file
// and the environment.
func loadConfig(flags cliFlags) (*config.Config, error) {
	if flags.Env != "" {
		if err := os.Setenv("QUICKCHAT_ENV", flags.Env); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flags.API != "" {
		cfg.API.BaseURL = flags.API
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return cfg, nil
}

// runtime holds the shared ambient services.
type runtime struct {
	cfg    *config.Config
	log    *slog.Logger
	bus    *eventbus.Bus
	closer []func()
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt := &runtime{cfg: cfg, log: log}
	rt.closer = append(rt.closer, func() { _ = logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	rt.closer = append(rt.closer, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerShutdown(shutdownCtx)
	})

	rt.bus = eventbus.New(logger.Component(log, "eventbus"))
	rt.closer = append(rt.closer, rt.bus.Close)
	return rt, nil
}

// Close releases services in reverse order of creation.
func (rt *runtime) Close() {
	for i := len(rt.closer) - 1; i >= 0; i-- {
		rt.closer[i]()
	}
}

// client is the wired chat panel and view controller.
type client struct {
	page    domain.Page
	scripts *scriptloader.Loader
	views   *view.Controller
	panel   *chat.Panel
}

func newClient(rt *runtime) (*client, error) {
	cfg := rt.cfg
	ex := exchange.New(cfg.BaseURL(), cfg.API.Timeout,
		exchange.WithLogger(logger.Component(rt.log, "exchange")))

	page, err := newPage(cfg, logger.Component(rt.log, "page"))
	if err != nil {
		return nil, fmt.Errorf("page: %w", err)
	}

	scripts := scriptloader.New(page, cfg.Embed.LoadTimeout, logger.Component(rt.log, "scriptloader"))
	factory := view.ManagerFactory(embed.Deps{
		URLs:     ex,
		Scripts:  scripts,
		Resolver: page,
		Logger:   logger.Component(rt.log, "embed"),
	}, embed.Options{
		SDKSrc:       cfg.Embed.SDKSrc,
		Height:       cfg.Embed.Height,
		Width:        cfg.Embed.Width,
		MountTimeout: cfg.Embed.MountTimeout,
	})
	views := view.NewController(factory, cfg.Embed.Container, rt.bus, logger.Component(rt.log, "view"))
	panel := chat.NewPanel(ex, views, cfg.API.UserID,
		chat.WithLogger(logger.Component(rt.log, "chat")))

	return &client{page: page, scripts: scripts, views: views, panel: panel}, nil
}

// Close returns to chat mode, which disposes any session, then waits for the
// script to be retracted before the page goes away.
func (c *client) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.views.Close(ctx)
	_ = c.scripts.Wait(ctx)
	_ = c.page.Close()
}

func newPage(cfg *config.Config, log *slog.Logger) (domain.Page, error) {
	switch cfg.Browser.Host {
	case "jsvm":
		return jsvm.New(jsvm.Config{
			SDKGlobal:        cfg.Embed.SDKGlobal,
			ExperienceMethod: cfg.Embed.ExperienceFunc,
		}, log), nil
	default:
		return browser.New(browser.Config{
			RemoteURL:        cfg.Browser.RemoteURL,
			Headless:         cfg.Browser.Headless,
			HostPage:         cfg.Browser.HostPage,
			Timeout:          cfg.Browser.Timeout,
			SDKGlobal:        cfg.Embed.SDKGlobal,
			ExperienceMethod: cfg.Embed.ExperienceFunc,
		}, log)
	}
}

// tuiLogOutput keeps log lines off the terminal the TUI draws on.
func tuiLogOutput(cfg *config.Config) {
	if cfg.Logger.Output == "stderr" || cfg.Logger.Output == "stdout" || cfg.Logger.Output == "" {
		cfg.Logger.Output = filepath.Join(os.TempDir(), "quickchat.log")
	}
}
