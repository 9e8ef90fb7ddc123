package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"quickchat/internal/adapter/backend"
	"quickchat/internal/adapter/exchange"
	tuichat "quickchat/internal/adapter/tui/chat"
	"quickchat/internal/adapter/tui/uxerror"
	"quickchat/internal/domain"
	"quickchat/internal/infra/logger"
	"quickchat/internal/infra/metrics"
)

// runTUI runs the chat / Quick Chat TUI against the configured backend.
func runTUI(ctx context.Context) error {
	cfg, err := loadConfig(parseFlags(commandArgs()))
	if err != nil {
		return err
	}
	tuiLogOutput(cfg)
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return startTUI(ctx, rt)
}

func startTUI(ctx context.Context, rt *runtime) error {
	cfg := rt.cfg
	c, err := newClient(rt)
	if err != nil {
		return err
	}
	defer c.Close()

	rt.log.Info("quickchat starting",
		"environment", cfg.Environment,
		"backend", cfg.BaseURL(),
		"page_host", cfg.Browser.Host,
	)
	return tuichat.Run(ctx, tuichat.ModelDeps{
		Panel:   c.panel,
		Views:   c.views,
		Backend: cfg.BaseURL(),
		Logger:  logger.Component(rt.log, "tui"),
	}, rt.bus)
}

// runServe runs the backend until interrupted.
func runServe(ctx context.Context) error {
	cfg, err := loadConfig(parseFlags(commandArgs()))
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := newServer(ctx, rt)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// runDev runs the backend and the TUI in one process. The TUI talks to the
// local backend unless --api says otherwise.
func runDev(ctx context.Context) error {
	flags := parseFlags(commandArgs())
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if flags.API == "" {
		cfg.API.BaseURL = localURL(cfg.Backend.Addr)
	}
	tuiLogOutput(cfg)

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := newServer(ctx, rt)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error {
		// Closing the TUI ends the session.
		defer cancel()
		return startTUI(gctx, rt)
	})
	return g.Wait()
}

func newServer(ctx context.Context, rt *runtime) (*backend.Server, error) {
	cfg := rt.cfg
	awsCfg, err := backend.LoadAWSConfig(ctx, cfg.Backend.AWS)
	if err != nil {
		return nil, fmt.Errorf("aws: %w", err)
	}
	m := metrics.New()
	log := logger.Component(rt.log, "backend")

	chat := backend.NewResponder(awsCfg, cfg.Backend.Bedrock, cfg.Backend.CircuitBreaker, m, log)
	issuer := backend.NewIssuer(awsCfg, cfg.Backend.AWS.AccountID, cfg.Backend.QuickSight, cfg.Backend.CircuitBreaker, m, log)
	log.Info("backend configured",
		"region", awsCfg.Region,
		"model", cfg.Backend.Bedrock.Model,
		"namespace", cfg.Backend.QuickSight.Namespace,
	)
	diag := backend.NewDiagnostics(awsCfg, cfg.Backend.AWS.AccountID, cfg.Backend.QuickSight, m, log)
	return backend.NewServer(backend.Options{
		Backend:     cfg.Backend,
		SDKSrc:      cfg.Embed.SDKSrc,
		Container:   cfg.Embed.Container,
		Diagnostics: diag,
	}, chat, issuer, m, log), nil
}

// localURL turns a listen address into a loopback base URL.
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost:8000"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// runEmbed mounts Quick Chat without the TUI and prints every lifecycle
// notification as one JSON line until interrupted or the session fails.
func runEmbed(ctx context.Context) error {
	cfg, err := loadConfig(parseFlags(commandArgs()))
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	c, err := newClient(rt)
	if err != nil {
		return err
	}
	defer c.Close()

	failed := make(chan string, 1)
	enc := json.NewEncoder(os.Stdout)
	unsub := rt.bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		if ev.Type == domain.EventMessageAppended {
			return
		}
		_ = enc.Encode(ev)
		if ev.Type != domain.EventEmbedStage {
			return
		}
		var p domain.StagePayload
		if json.Unmarshal(ev.Payload, &p) == nil && p.To == domain.StageError {
			select {
			case failed <- p.Notice:
			default:
			}
		}
	})
	defer unsub()

	if err := c.views.SetMode(ctx, domain.ViewEmbed); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return nil
	case notice := <-failed:
		if notice == "" {
			notice = "embed session failed"
		}
		return errors.New(notice)
	}
}

// runAsk sends one chat message and prints the reply.
func runAsk(ctx context.Context) error {
	flags := parseFlags(commandArgs())
	text := strings.TrimSpace(strings.Join(flags.Args, " "))
	if text == "" {
		return errors.New("usage: quickchat ask TEXT")
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ex := exchange.New(cfg.BaseURL(), cfg.API.Timeout,
		exchange.WithLogger(logger.Component(rt.log, "exchange")))
	reply, err := ex.SendChatMessage(ctx, cfg.API.UserID, text)
	if err != nil {
		fmt.Fprintln(os.Stderr, uxerror.Humanize(err).Render())
		return err
	}
	fmt.Println(reply.Reply)
	return nil
}
