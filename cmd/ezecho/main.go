package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/yok-tottii/EzEcho/internal/config"
	"github.com/yok-tottii/EzEcho/internal/logger"
)

const version = "0.1.0"

func init() {
	// systray and the hotkey library need the main thread on macOS
	runtime.LockOSThread()
}

func main() {
	var (
		configPath  = flag.String("config", config.GetConfigPath(), "path to the configuration file (.json, .yaml or .yml)")
		inputPath   = flag.String("input", "", "stream a 16-bit PCM WAV file instead of the microphone (implies -headless)")
		headless    = flag.Bool("headless", false, "run without tray and hotkey; logs go to stderr")
		logLevel    = flag.String("log-level", "", "override the configured log level")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ezecho %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config %s: %v", *configPath, err)
	}

	opts := Options{
		ConfigPath: *configPath,
		InputPath:  *inputPath,
		Headless:   *headless || *inputPath != "",
	}

	appLog, err := newLogger(cfg, opts.Headless)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLog.Close()

	appLog.Info("EzEcho v%s starting", version)

	app, err := NewApp(context.Background(), cfg, opts, appLog)
	if err != nil {
		appLog.Error("Startup failed: %v", err)
		fmt.Fprintf(os.Stderr, "ezecho: %v\n", err)
		os.Exit(1)
	}

	if opts.Headless {
		err = runHeadless(app)
	} else {
		// Blocks until Quit
		app.RunTray()
	}

	app.Shutdown()

	if err != nil {
		appLog.Error("Exited with error: %v", err)
		fmt.Fprintf(os.Stderr, "ezecho: %v\n", err)
		os.Exit(1)
	}
	appLog.Info("EzEcho stopped")
}

func newLogger(cfg *config.Config, headless bool) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if headless {
		return logger.NewWithWriter(os.Stderr, level), nil
	}

	lc := logger.DefaultConfig()
	lc.Level = level
	return logger.New(lc)
}

// runHeadless serves the control API and drives the pipeline until a
// signal arrives or, with -input, until the file has been played through.
func runHeadless(app *App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.StartServer(); err != nil {
			return err
		}
		<-gctx.Done()
		return app.httpServer.Stop()
	})

	if app.opts.InputPath != "" {
		g.Go(func() error {
			select {
			case <-app.inputDone:
				app.logger.Info("Input %s finished", app.opts.InputPath)
				stop()
				return nil
			case err := <-app.inputFailed:
				return err
			case <-gctx.Done():
				return nil
			}
		})
	}

	app.orchestrator.RequestMicInput(true)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
