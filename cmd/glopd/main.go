// Command glopd is the supervising service: it binds the control
// socket (gloprpc) and the admin HTTP/WebSocket surface (glopadmin),
// and hosts every agent the control socket registers. main stays
// thin: config, logger, the two listeners, then signal-driven
// shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/glop/glop/internal/config"
	"github.com/glop/glop/internal/glopadmin"
	"github.com/glop/glop/internal/glopbus"
	"github.com/glop/glop/internal/glopmetrics"
	"github.com/glop/glop/internal/glopparse"
	"github.com/glop/glop/internal/gloprpc"
	"github.com/glop/glop/internal/glopscript"
	"github.com/glop/glop/internal/glopsupervisor"
	"github.com/glop/glop/pkg/logger"
	"github.com/glop/glop/pkg/util"
)

func main() {
	configPath := flag.String("config", "", "optional TOML config file overlaid on environment variables")
	watchDir := flag.String("watch-dir", "", "watch a directory of .glop files and hot-reload agents on change")
	flag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		if err := config.LoadFile(cfg, *configPath); err != nil {
			fmt.Fprintln(os.Stderr, "glopd: loading config file: "+err.Error())
			os.Exit(1)
		}
	}
	logger.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := glopbus.New()

	runner, err := glopscript.NewRunner()
	if err != nil {
		logger.Fatal("glopd: script runner init failed", logger.FieldError, err)
	}
	runner.OutputLimit = cfg.ScriptOutputLimit
	defer runner.Cleanup()

	sup := glopsupervisor.New(
		glopsupervisor.ParserFunc(glopparse.Parse),
		runner,
		glopsupervisor.WithBus(bus),
		glopsupervisor.WithMailboxCapacity(cfg.MailboxCapacity),
		glopsupervisor.WithScriptTimeout(time.Duration(cfg.ScriptTimeoutSec)*time.Second),
		glopsupervisor.WithMetrics(glopmetrics.Recorder{}),
	)
	defer sup.Shutdown()

	rpcServer, err := bindControlSocket(cfg, sup)
	if err != nil {
		logger.Fatal("glopd: failed to bind control socket", logger.FieldError, err)
	}
	defer rpcServer.Close()

	// Printed so a launching supervisor (or test harness) can discover
	// the ephemeral port without parsing logs.
	fmt.Println(rpcServer.Addr())

	util.SafeGo(func() {
		if err := rpcServer.Serve(ctx); err != nil {
			logger.Error("glopd: control socket serve error", logger.FieldError, err)
		}
	})

	admin := glopadmin.New(sup, bus)
	util.SafeGo(func() {
		if err := admin.ListenAndServe(ctx, cfg.AdminAddr); err != nil {
			logger.Error("glopd: admin server error", logger.FieldError, err)
		}
	})

	if *watchDir != "" {
		cfg.WatchEnabled = true
		cfg.SourceDir = *watchDir
	}
	if cfg.WatchEnabled {
		watcher, err := glopsupervisor.NewWatcher(sup, cfg.SourceDir)
		if err != nil {
			logger.Warn("glopd: source watch disabled", logger.FieldError, err)
		} else {
			defer watcher.Close()
			util.SafeGo(func() { watcher.Run(ctx) })
		}
	}

	util.SafeGo(func() { reportAgentGauge(ctx, sup) })

	logger.Info("glopd: ready",
		logger.FieldAddr, rpcServer.Addr(),
		"admin_addr", cfg.AdminAddr,
	)
	<-ctx.Done()
	logger.Info("glopd: shutting down")
}

// bindControlSocket binds cfg.ControlAddr, retrying with exponential
// backoff up to cfg.ControlBindMax times when the port is still held
// by a just-exited prior instance (EADDRINUSE). Any other bind error
// is permanent.
func bindControlSocket(cfg *config.Config, sup *glopsupervisor.Supervisor) (*gloprpc.Server, error) {
	var (
		srv     *gloprpc.Server
		attempt int
	)
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(cfg.ControlBindMax))

	op := func() error {
		attempt++
		s, err := gloprpc.New(cfg.ControlAddr, sup)
		if err == nil {
			srv = s
			return nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return backoff.Permanent(err)
		}
		logger.Warn("glopd: control socket bind retry",
			"attempt", attempt,
			logger.FieldAddr, cfg.ControlAddr,
			logger.FieldError, err,
		)
		return err
	}

	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return srv, nil
}

func reportAgentGauge(ctx context.Context, sup *glopsupervisor.Supervisor) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			glopmetrics.SetAgentsRunning(len(sup.List()))
		}
	}
}
