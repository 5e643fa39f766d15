package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/yok-tottii/EzEcho/internal/api"
	"github.com/yok-tottii/EzEcho/internal/audio"
	"github.com/yok-tottii/EzEcho/internal/config"
	"github.com/yok-tottii/EzEcho/internal/hotkey"
	"github.com/yok-tottii/EzEcho/internal/i18n"
	"github.com/yok-tottii/EzEcho/internal/journal"
	"github.com/yok-tottii/EzEcho/internal/logger"
	"github.com/yok-tottii/EzEcho/internal/metrics"
	"github.com/yok-tottii/EzEcho/internal/notification"
	"github.com/yok-tottii/EzEcho/internal/permissions"
	"github.com/yok-tottii/EzEcho/internal/pipeline"
	"github.com/yok-tottii/EzEcho/internal/playback"
	"github.com/yok-tottii/EzEcho/internal/recorder"
	"github.com/yok-tottii/EzEcho/internal/server"
	"github.com/yok-tottii/EzEcho/internal/tray"
	"github.com/yok-tottii/EzEcho/internal/vad"
	"github.com/yok-tottii/EzEcho/internal/wizard"
)

// Options are the command line choices that shape the App
type Options struct {
	ConfigPath string
	InputPath  string
	Headless   bool
}

// App holds all application state
type App struct {
	logger *logger.Logger
	config *config.Config
	opts   Options

	translator     *i18n.Translator
	notifier       *notification.NotificationManager
	permChecker    *permissions.PermissionChecker
	meterProvider  *sdkmetric.MeterProvider
	metricsHandler http.Handler
	journal        *journal.Store
	orchestrator   *pipeline.Orchestrator
	httpServer     *server.Server
	apiHandler     *api.Handler
	trayMgr        *tray.Manager
	hotkeyMgr      *hotkey.Manager
	setup          *wizard.SetupWizard

	// file input
	fileMu      sync.Mutex
	fileSource  *audio.ReaderSource
	sawRequest  bool
	inputDone   chan struct{}
	inputFailed chan error
	doneOnce    sync.Once
}

// NewApp wires every component from cfg. Nothing is started except the
// pipeline worker; the mic stays off until requested.
func NewApp(ctx context.Context, cfg *config.Config, opts Options, log *logger.Logger) (*App, error) {
	a := &App{
		logger:      log,
		config:      cfg,
		opts:        opts,
		permChecker: permissions.NewPermissionChecker(),
		inputDone:   make(chan struct{}),
		inputFailed: make(chan error, 1),
	}

	lang := i18n.Language(cfg.UILanguage)
	if !i18n.ValidateLanguage(cfg.UILanguage) {
		lang = i18n.DetectSystemLanguage()
	}
	a.translator = i18n.NewDefaultTranslator(lang)
	a.notifier = notification.NewNotificationManager(a.translator)

	if !opts.Headless {
		a.hotkeyMgr = hotkey.New()
		a.trayMgr = tray.NewManager(tray.Config{
			Translator:     a.translator,
			OnReady:        a.onTrayReady,
			OnToggleMic:    a.toggleMic,
			OnSettings:     a.openSettings,
			OnDeviceChange: a.selectDevice,
			OnQuit:         func() { log.Info("Quit requested from tray") },
		})
	}

	mp, handler, err := metrics.InitProvider(metrics.ProviderConfig{
		ServiceName:    "ezecho",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	a.meterProvider = mp
	a.metricsHandler = handler

	m, err := metrics.NewMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}

	journalPath, err := config.ExpandPath(cfg.Journal.Path)
	if err != nil {
		return nil, err
	}
	a.journal, err = journal.Open(ctx, journal.Config{
		Path:          journalPath,
		RetentionMode: cfg.Journal.RetentionMode,
		RetentionDays: cfg.Journal.RetentionDays,
		MaxClips:      cfg.Journal.MaxClips,
	}, log)
	if err != nil {
		return nil, err
	}

	recordingsDir, err := cfg.GetRecordingsDir()
	if err != nil {
		return nil, err
	}

	engine, err := vad.New(cfg.VAD.Backend)
	if err != nil {
		return nil, err
	}
	mode, err := vad.ParseMode(cfg.VAD.Mode)
	if err != nil {
		return nil, err
	}

	a.orchestrator = pipeline.New(pipeline.Config{
		VADMode:             mode,
		ClassifierFrameSize: cfg.VAD.FrameSize,
		PreRollFrames:       cfg.PreRollFrames,
		MicStartDelay:       cfg.MicStartDelay(),
		KeepRaw:             cfg.KeepRaw,
	}, pipeline.Deps{
		Source:   a.openSource,
		Engine:   engine,
		Recorder: recorder.New(recorder.Config{Dir: recordingsDir}, m),
		Player:   playback.NewPortAudioPlayer(cfg.FrameSize),
		Journal:  a.journal,
		Observer: a,
		Logger:   log,
		Metrics:  m,
	})

	if opts.ConfigPath != "" {
		a.setup, err = wizard.NewSetupWizard(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Port = cfg.ServerPort
	a.httpServer = server.New(serverConfig, log)

	a.apiHandler = api.New(cfg, api.Options{
		ConfigPath:      opts.ConfigPath,
		Controller:      a.orchestrator,
		Clips:           a.journal,
		Permissions:     a.permChecker,
		Devices:         audio.ListInputDevices,
		Metrics:         handler,
		OnHotkeyChanged: a.ReloadHotkey,
		Setup:           a.setup,
		SetupState:      a.setupState,
		Logger:          log,
	})
	a.apiHandler.RegisterRoutes(a.httpServer.GetMux())

	log.Info("Pipeline ready: vad=%s/%s pre-roll=%d frame=%d recordings=%s",
		cfg.VAD.Backend, mode, cfg.PreRollFrames, cfg.FrameSize, recordingsDir)

	return a, nil
}

// openSource is the pipeline's SourceFunc. Device settings are read on
// every start so a device change applies the next time the mic starts.
func (a *App) openSource() (audio.FrameSource, error) {
	cfg := a.config.Clone()

	if a.opts.InputPath != "" {
		return a.sharedFileSource(cfg.FrameSize)
	}

	if err := a.permChecker.RequireMicrophone(); err != nil {
		return nil, err
	}

	return audio.OpenPortAudioSource(audio.Config{
		DeviceID:         cfg.AudioDeviceID,
		SampleRate:       cfg.SampleRate,
		Channels:         1,
		FrameSizeSamples: cfg.FrameSize,
		Latency:          latencyMode(cfg.Latency),
	})
}

func latencyMode(s string) audio.LatencyMode {
	if s == "low" {
		return audio.LowLatency
	}
	return audio.HighStability
}

// keepOpen hides Close so that capture suspended for playback resumes
// where the file left off
type keepOpen struct {
	audio.FrameSource
}

func (keepOpen) Close() error { return nil }

func (a *App) sharedFileSource(frameSize int) (audio.FrameSource, error) {
	a.fileMu.Lock()
	defer a.fileMu.Unlock()

	if a.fileSource == nil {
		src, err := audio.OpenFileSource(a.opts.InputPath, frameSize)
		if err != nil {
			return nil, err
		}
		a.fileSource = src
	}
	return keepOpen{a.fileSource}, nil
}

// OnStateChange implements pipeline.Observer
func (a *App) OnStateChange(s pipeline.Snapshot) {
	a.logger.Debug("Pipeline: state=%s requested=%v running=%v", s.State, s.MicRequested, s.MicRunning)

	if a.trayMgr != nil {
		a.trayMgr.Update(s)
	}

	if a.opts.InputPath == "" {
		return
	}

	// Input is finished once the request set at startup has been cleared
	// by end of stream and the last clip has played
	a.fileMu.Lock()
	defer a.fileMu.Unlock()
	if s.MicRequested {
		a.sawRequest = true
		return
	}
	if a.sawRequest && s.State == pipeline.Unvoiced && !s.MicRunning {
		a.doneOnce.Do(func() { close(a.inputDone) })
	}
}

// OnError implements pipeline.Observer
func (a *App) OnError(err error) {
	a.logger.Error("Pipeline: %v", err)

	if a.opts.InputPath != "" && errors.Is(err, pipeline.ErrCaptureStart) {
		select {
		case a.inputFailed <- err:
		default:
		}
		return
	}

	if a.opts.Headless {
		return
	}
	if nerr := a.notifier.PipelineError(err); nerr != nil {
		a.logger.Warn("Failed to send notification: %v", nerr)
	}
}

// StartServer starts the control API
func (a *App) StartServer() error {
	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start control API: %w", err)
	}
	a.logger.Info("Control API listening on %s", a.httpServer.URL())
	return nil
}

// RunTray runs the menu bar UI until the user quits
func (a *App) RunTray() {
	a.trayMgr.Run()
}

func (a *App) onTrayReady() {
	a.trayMgr.Update(a.orchestrator.Snapshot())

	if !a.permChecker.IsMicrophoneAuthorized() {
		a.logger.Warn("Microphone permission: %s", a.permChecker.CheckMicrophonePermission())
		if a.permChecker.RequireMicrophone() != nil {
			a.notifier.MicrophonePermissionDenied()
		}
	}

	if err := a.StartServer(); err != nil {
		a.logger.Error("%v", err)
	}

	a.refreshDeviceMenu()

	if err := a.ReloadHotkey(); err != nil {
		a.logger.Error("Failed to register hotkey: %v", err)
	}

	if a.config.Clone().MicOnStart {
		a.orchestrator.RequestMicInput(true)
	}

	if a.setup != nil && a.setup.ShouldShowWizard() {
		a.runFirstSetup()
	}

	a.logger.Info("Tray ready")
}

// runFirstSetup writes the initial config, asks for microphone access and
// opens the control page. POST /api/setup marks it done.
func (a *App) runFirstSetup() {
	a.logger.Info("Starting first-run setup")

	if a.setup.IsFirstRun() {
		if err := a.config.Save(a.setup.GetConfigPath()); err != nil {
			a.logger.Error("Failed to write initial config: %v", err)
		}
	}
	if !a.permChecker.IsMicrophoneAuthorized() {
		if err := a.permChecker.RequestMicrophonePermission(); err != nil {
			a.logger.Warn("Failed to open microphone settings: %v", err)
		}
	}
	a.openSettings()
}

func (a *App) setupState() wizard.StepState {
	return wizard.StepState{
		MicrophoneAuthorized: a.permChecker.IsMicrophoneAuthorized(),
		HotkeyRegistered:     a.hotkeyMgr != nil && a.hotkeyMgr.IsRunning(),
	}
}

// ReloadHotkey registers the configured hotkey, replacing any previous one
func (a *App) ReloadHotkey() error {
	if a.hotkeyMgr == nil {
		return nil
	}

	hc, err := hotkey.FromConfig(a.config.Clone().Hotkey)
	if err != nil {
		return err
	}
	if err := a.hotkeyMgr.Reload(hc); err != nil {
		return err
	}

	a.logger.Info("Hotkey registered: %s", hotkey.FormatHotkey(hc.Modifiers, hc.Key))
	go a.hotkeyEventLoop(hc.Mode, a.hotkeyMgr.Events())
	return nil
}

// hotkeyEventLoop runs until the registration it was started for is closed
func (a *App) hotkeyEventLoop(mode hotkey.Mode, events <-chan hotkey.Event) {
	for ev := range events {
		if enabled, ok := hotkey.MicIntent(mode, ev, a.orchestrator.MicRequested()); ok {
			a.logger.Info("Hotkey: mic %v", enabled)
			a.orchestrator.RequestMicInput(enabled)
		}
	}
}

func (a *App) toggleMic() {
	a.orchestrator.RequestMicInput(!a.orchestrator.MicRequested())
}

func (a *App) openSettings() {
	if !a.httpServer.IsRunning() {
		a.logger.Error("Control API is not running")
		return
	}

	url := a.httpServer.URL() + "/api/settings"
	go func() {
		if err := exec.Command("open", url).Run(); err != nil {
			a.logger.Error("Failed to open browser: %v", err)
		}
	}()
}

func (a *App) selectDevice(id int) {
	if err := a.config.Update(map[string]interface{}{"audio_device_id": float64(id)}); err != nil {
		a.logger.Error("Failed to select device %d: %v", id, err)
		return
	}
	if err := a.config.Save(a.opts.ConfigPath); err != nil {
		a.logger.Warn("Failed to save config: %v", err)
	}
	a.logger.Info("Input device set to %d; applies on next mic start", id)
	a.refreshDeviceMenu()
}

func (a *App) refreshDeviceMenu() {
	current := a.config.Clone().AudioDeviceID

	items := []tray.Device{{ID: -1, Name: "System Default", IsDefault: true, IsCurrent: current == -1}}
	devices, err := audio.ListInputDevices()
	if err != nil {
		a.logger.Warn("Failed to list input devices: %v", err)
	}
	for _, d := range devices {
		items = append(items, tray.Device{ID: d.ID, Name: d.Name, IsDefault: d.IsDefault, IsCurrent: d.ID == current})
	}
	a.trayMgr.UpdateDeviceMenu(items)
}

// Shutdown stops every component in reverse dependency order
func (a *App) Shutdown() {
	if a.hotkeyMgr != nil {
		if err := a.hotkeyMgr.Close(); err != nil {
			a.logger.Warn("%v", err)
		}
	}

	a.orchestrator.Close()

	a.fileMu.Lock()
	if a.fileSource != nil {
		a.fileSource.Close()
	}
	a.fileMu.Unlock()

	if err := a.httpServer.Stop(); err != nil {
		a.logger.Warn("%v", err)
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("Failed to close journal: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.meterProvider.Shutdown(ctx); err != nil {
		a.logger.Warn("Failed to shut down metrics: %v", err)
	}
}
