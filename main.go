package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kanata-switcher/switchd/pkg/backend"
	"github.com/kanata-switcher/switchd/pkg/control"
	"github.com/kanata-switcher/switchd/pkg/kanata"
	"github.com/kanata-switcher/switchd/pkg/logind"
	"github.com/kanata-switcher/switchd/pkg/rules"
	statejson "github.com/kanata-switcher/switchd/pkg/statestore/json"
	statesqlite "github.com/kanata-switcher/switchd/pkg/statestore/sqlite"
	"github.com/kanata-switcher/switchd/pkg/supervisor"
)

func main() {
	if err := run(); err != nil {
		var cfgErr *configError
		if errors.As(err, &cfgErr) {
			log.Printf("error: %v", err)
			os.Exit(2)
		}
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

// configError marks a startup failure that should exit 2 per spec §6.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func run() error {
	host := flag.String("host", "127.0.0.1", "Kanata TCP server host")
	port := flag.Int("port", 10000, "Kanata TCP server port")
	rulesPath := flag.String("rules", "", "path to the rule list JSON file (default: XDG config dir)")
	debug := flag.Bool("debug", false, "enable debug logging")
	pauseFlag := flag.Bool("pause", false, "pause a running daemon and exit")
	unpauseFlag := flag.Bool("unpause", false, "unpause a running daemon and exit")
	restartFlag := flag.Bool("restart", false, "restart a running daemon and exit")
	historyFlag := flag.Int("history", 0, "print the N most recent audit log entries and exit")
	indicatorFocusOnly := flag.String("indicator-focus-only", "", "accepted for CLI compatibility and ignored: this binary has no indicator (true|false)")
	flag.Parse()
	_ = indicatorFocusOnly // parsed and not used; nothing in this binary reads the show-focus-layer-only setting

	switch {
	case *pauseFlag:
		return sendControlMethod("Pause")
	case *unpauseFlag:
		return sendControlMethod("Unpause")
	case *restartFlag:
		return sendControlMethod("Restart")
	case *historyFlag > 0:
		return printHistory(*historyFlag)
	}

	logger, err := newLogger(*debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	resolvedRulesPath := *rulesPath
	if resolvedRulesPath == "" {
		resolvedRulesPath, err = xdg.ConfigFile("kanata-switcher/rules.json")
		if err != nil {
			return &configError{fmt.Errorf("resolve rules path: %w", err)}
		}
	}
	ruleBytes, err := os.ReadFile(resolvedRulesPath)
	if err != nil {
		return &configError{fmt.Errorf("read rules file %s: %w", resolvedRulesPath, err)}
	}
	ruleSet, err := rules.Parse(ruleBytes)
	if err != nil {
		return &configError{fmt.Errorf("parse rules: %w", err)}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	return runDaemon(ctx, logger, ruleSet, *host, *port)
}

func runDaemon(ctx context.Context, logger *zap.SugaredLogger, ruleSet *rules.Set, host string, port int) error {
	defaultLayer, hasDefault := ruleSet.DefaultLayer()

	var sup *supervisor.Supervisor
	kanataClient := kanata.New(host, port, defaultLayer, hasDefault, func(layer string) {
		if sup != nil {
			sup.NotifyExternalLayerChange(layer)
		}
	}, logger.Named("kanata"))

	logindWatcher, err := logind.New(ctx, func(active bool) {
		if sup != nil {
			sup.NotifySessionActive(active)
		}
	}, logger.Named("logind"))
	if err != nil {
		logger.Warnw("logind watcher unavailable, native-terminal detection disabled", "error", err)
		logindWatcher = nil
	}

	pauseStorePath, err := xdg.StateFile("kanata-switcher/state.json")
	if err != nil {
		return fmt.Errorf("resolve state path: %w", err)
	}
	pauseStore, err := statejson.Open(pauseStorePath)
	if err != nil {
		return fmt.Errorf("open pause store: %w", err)
	}
	defer pauseStore.Close()

	auditDBPath, err := xdg.StateFile("kanata-switcher/audit.db")
	if err != nil {
		return fmt.Errorf("resolve audit db path: %w", err)
	}
	auditLog, err := statesqlite.Open(auditDBPath, 0, logger.Named("audit"))
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	broadcaster, err := control.New(logger.Named("control"))
	if err != nil {
		return fmt.Errorf("start control broadcaster: %w", err)
	}
	defer broadcaster.Close()

	manualBackend := backend.NewManual(16)

	sup = supervisor.New(ctx, ruleSet, kanataClient, manualBackend, broadcaster, auditLog, pauseStore, logger.Named("supervisor"))
	if err := broadcaster.Attach(sup, manualBackend); err != nil {
		return fmt.Errorf("attach control surface: %w", err)
	}

	logger.Info("started kanata-switcher")

	errChan := make(chan error, 4)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := kanataClient.Run(ctx); err != nil {
			errChan <- fmt.Errorf("kanata client: %w", err)
		}
	}()

	if logindWatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := logindWatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("logind watcher: %w", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := systemdNotifyLoop(ctx); err != nil {
			errChan <- fmt.Errorf("systemd notify: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errChan <- sup.Run(ctx)
	}()

	err = <-errChan
	switch {
	case errors.Is(err, supervisor.ErrRestartRequested):
		logger.Info("restarting")
		wg.Wait()
		return reexec()
	case errors.Is(err, context.Canceled):
		logger.Info("shutting down")
		wg.Wait()
		return nil
	case err != nil:
		return err
	}
	return nil
}

// printHistory implements the `--history N` sub-command (spec §F): it opens
// the same audit ring buffer the running daemon appends to and prints its N
// most recent entries, newest first. It does not require a running daemon
// or bus connection, unlike --pause/--unpause/--restart.
func printHistory(n int) error {
	logger, err := newLogger(false)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	auditDBPath, err := xdg.StateFile("kanata-switcher/audit.db")
	if err != nil {
		return fmt.Errorf("resolve audit db path: %w", err)
	}
	auditLog, err := statesqlite.Open(auditDBPath, 0, logger)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	entries, err := auditLog.Recent(n)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	for _, e := range entries {
		fmt.Printf("layer=%s vks=%v source=%s paused=%v\n", e.Layer, e.Vks, e.Source, e.Paused)
	}
	return nil
}

func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}

func sendControlMethod(method string) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("com.github.kanata.Switcher", dbus.ObjectPath("/com/github/kanata/Switcher"))
	call := obj.Call("com.github.kanata.Switcher."+method, 0)
	if call.Err != nil {
		return fmt.Errorf("%s: daemon not reachable: %w", method, call.Err)
	}
	return nil
}

func systemdNotifyLoop(ctx context.Context) error {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return fmt.Errorf("notify systemd: %w", err)
	}
	if !supported {
		return nil
	}

	_, _ = daemon.SdNotify(false, "STATUS=Watching Kanata layer changes")

	t, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("check watchdog: %w", err)
	}
	if t == 0 {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t / 2):
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				return fmt.Errorf("notify watchdog: %w", err)
			}
		}
	}
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.OutputPaths = []string{"stdout"}
	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}
