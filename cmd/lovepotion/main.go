// Command lovepotion runs the RFID door controller.
//
//	lovepotion [flags]                  serve (default)
//	lovepotion [flags] users ls|add|rm|import
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/wal-rus/lovepotion/internal/announce"
	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/config"
	"github.com/wal-rus/lovepotion/internal/grpcapi"
	"github.com/wal-rus/lovepotion/internal/hardware"
	"github.com/wal-rus/lovepotion/internal/httpapi"
	"github.com/wal-rus/lovepotion/internal/logging"
	"github.com/wal-rus/lovepotion/internal/lovepotion/service"
	"github.com/wal-rus/lovepotion/internal/wiegand"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "lovepotion:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	cfg, rest, err := config.Load("lovepotion", args)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(rest) == 0 {
		return serve(ctx, cfg, logger, stdin)
	}
	switch rest[0] {
	case "serve":
		return serve(ctx, cfg, logger, stdin)
	case "users":
		return runUsers(ctx, cfg, logger, rest[1:], stdout)
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, stdin io.Reader) error {
	clk := clock.Real()

	kind, err := hardware.ParseKind(cfg.Hardware)
	if err != nil {
		return err
	}
	opts := hardware.Options{
		Decoder: wiegand.Config{BitTimeout: cfg.BitTimeout, FrameBuffer: cfg.FrameBuffer},
		Clock:   clk,
		Logger:  logger,
	}
	if kind == hardware.KindLine {
		pinFile := config.ExpandHome(cfg.PinFile)
		pins, created, err := hardware.LoadOrCreatePins(pinFile)
		if err != nil {
			return err
		}
		if created {
			logger.Info("wrote default pin map", "path", pinFile)
		}
		opts.Pins = pins
	}
	hw, err := hardware.New(kind, opts)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	announcer := announce.New(announce.Config{Addr: cfg.AnnounceAddr, Timeout: cfg.AnnounceTimeout}, logger)
	defer announcer.Close()

	actuator := service.NewDoorActuator(hw, service.ActuatorConfig{}, clk, logger)
	controller := service.NewAccessController(service.ControllerDependencies{
		Config: service.ControllerConfig{
			OpenTime:            cfg.OpenTime,
			DenyBeep:            cfg.DenyBeep,
			RejectWhileUnlocked: cfg.RejectWhileUnlocked,
		},
		Users:     st.users,
		Audit:     st.audit,
		Actuator:  actuator,
		Announcer: announcer,
		Clock:     clk,
		Logger:    logger,
	})
	hw.SetTagSeenHandler(func(id string) { controller.HandleTag(ctx, id) })

	pruner := service.NewAuditPruner(st.prune, service.PrunerConfig{
		RetentionDays: cfg.AuditRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, clk, logger)

	httpSrv := httpapi.NewServer(httpapi.Dependencies{
		Logger:     logger,
		Addr:       cfg.HTTPAddr,
		Controller: controller,
		Hardware:   hw,
		Audit:      st.reader,
		OpenToken:  cfg.OpenToken,
		Clock:      clk,
	})

	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = grpcapi.NewServer(grpcapi.Dependencies{Logger: logger, Addr: cfg.GRPCAddr})
	}

	if err := hw.Initialize(ctx); err != nil {
		actuator.Close()
		return fmt.Errorf("initialize %s hardware: %w", kind, err)
	}
	logger.Info("hardware ready", "kind", string(kind))

	pruner.Start(ctx)

	fatal := make(chan error, 3)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.Start(); err != nil {
			fatal <- fmt.Errorf("http server: %w", err)
		}
	}()
	if grpcSrv != nil {
		go func() {
			if err := grpcSrv.Start(); err != nil {
				fatal <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		grpcSrv.SetServing(true)
	}

	// An actuation failure leaves the lock in an unknown state; stop
	// serving and exit so a supervisor can restart us.
	go func() {
		select {
		case err := <-actuator.Failures():
			if grpcSrv != nil {
				grpcSrv.SetServing(false)
			}
			fatal <- err
		case <-ctx.Done():
		}
	}()

	if mock, ok := hw.(*hardware.Mock); ok && stdin != nil {
		go feedTags(ctx, mock, stdin, logger)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-fatal:
		logger.Error("fatal", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	pruner.Stop()
	if grpcSrv != nil {
		_ = grpcSrv.Shutdown(shutdownCtx)
	}
	_ = httpSrv.Shutdown(shutdownCtx)

	hw.SetTagSeenHandler(nil)
	actuator.Close()
	if err := hw.ShutDown(); err != nil {
		logger.Error("hardware shutdown", "err", err)
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// feedTags presents each line of r as a tag read on the mock reader.
func feedTags(ctx context.Context, mock *hardware.Mock, r io.Reader, logger *slog.Logger) {
	logger.Info("mock reader: type a tag id and press enter")
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if id := sc.Text(); id != "" {
			mock.Present(id)
		}
	}
}
