package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/tethernode/cmd"
	"github.com/smazurov/tethernode/internal/api"
	"github.com/smazurov/tethernode/internal/camera"
	"github.com/smazurov/tethernode/internal/config"
	"github.com/smazurov/tethernode/internal/driver"
	"github.com/smazurov/tethernode/internal/driver/gphoto2"
	"github.com/smazurov/tethernode/internal/driver/sim"
	"github.com/smazurov/tethernode/internal/events"
	"github.com/smazurov/tethernode/internal/library"
	"github.com/smazurov/tethernode/internal/lockfile"
	"github.com/smazurov/tethernode/internal/logging"
	"github.com/smazurov/tethernode/internal/metrics"
	"github.com/smazurov/tethernode/internal/preview"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port     string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	LockFile string `help:"Single-instance lock file" default:"/tmp/tethernode.lock" toml:"server.lock_file" env:"SERVER_LOCK_FILE"`

	// Camera settings
	Sim           bool   `help:"Use the simulated camera instead of real hardware" default:"false" toml:"camera.sim" env:"CAMERA_SIM"`
	Gphoto2Binary string `help:"gphoto2 executable" default:"gphoto2" toml:"camera.gphoto2_binary" env:"CAMERA_GPHOTO2_BINARY"`
	CameraPort    string `help:"Pin a USB port (e.g. usb:001,004), auto-detect when empty" default:"" toml:"camera.port" env:"CAMERA_PORT"`
	KeepMonitors  bool   `help:"Do not kill gvfs PTP monitors before connecting" default:"false" toml:"camera.keep_monitors" env:"CAMERA_KEEP_MONITORS"`

	// Capture settings
	OutputDir string `help:"Directory for downloaded images" default:"images" toml:"capture.output_dir" env:"CAPTURE_OUTPUT_DIR"`
	Prefix    string `help:"Filename prefix for new captures" default:"scan" toml:"capture.prefix" env:"CAPTURE_PREFIX"`

	// Auth settings
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCamera  string `help:"Camera worker logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingDriver  string `help:"Driver logging level" default:"info" toml:"logging.driver" env:"LOGGING_DRIVER"`
	LoggingLibrary string `help:"Image library logging level" default:"info" toml:"logging.library" env:"LOGGING_LIBRARY"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP    string `help:"HTTP access logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

func main() {
	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"camera":  opts.LoggingCamera,
				"driver":  opts.LoggingDriver,
				"library": opts.LoggingLibrary,
				"api":     opts.LoggingAPI,
				"http":    opts.LoggingHTTP,
			},
		})

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Feed log entries into the bus for the SSE log stream
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		// Image library holds downloaded captures and their thumbnails
		lib, err := library.New(opts.OutputDir, opts.Prefix, logging.GetLogger("library"))
		if err != nil {
			logger.Error("Failed to initialize image library", "dir", opts.OutputDir, "error", err)
			os.Exit(1)
		}

		// Open the camera session. The worker is the only goroutine that
		// will ever touch it.
		var sess driver.Session
		if opts.Sim {
			logger.Info("Using simulated camera")
			sess = sim.New(logging.GetLogger("driver"))
		} else {
			sess, err = gphoto2.Open(context.Background(), gphoto2.Options{
				Binary:       opts.Gphoto2Binary,
				Port:         opts.CameraPort,
				KillMonitors: !opts.KeepMonitors,
			}, logging.GetLogger("driver"))
			if err != nil {
				logger.Error("Failed to connect to camera", "error", err)
				os.Exit(1)
			}
		}

		previewHub := preview.NewHub(logging.GetLogger("api"))

		worker := camera.New(sess, lib, logging.GetLogger("camera"))
		worker.SetFrameSink(previewHub.Publish)
		worker.SetCaptureSink(func(path string) {
			eventBus.Publish(events.CaptureSavedEvent{
				Name:      filepath.Base(path),
				Source:    "camera",
				Timestamp: time.Now().Format(time.RFC3339),
			})
		})
		worker.SetDisconnectHandler(func(cause error) {
			eventBus.Publish(events.CameraDisconnectedEvent{
				Error:     cause.Error(),
				Timestamp: time.Now().Format(time.RFC3339),
			})
		})

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Worker:            worker,
			Library:           lib,
			Hub:               previewHub,
			EventBus:          eventBus,
			PrometheusHandler: metrics.Handler(),
		})

		// Hot-reload capture settings when the config file changes
		watcher := config.NewConfigWatcher(opts.Config, config.LoadSettings, logger)
		watcher.OnReload(func(settings config.Settings) {
			changed := false
			if settings.Prefix != "" && settings.Prefix != lib.Prefix() {
				lib.SetPrefix(settings.Prefix)
				changed = true
			}
			if settings.Rotation != nil && *settings.Rotation != lib.Rotation() {
				lib.SetRotation(*settings.Rotation)
				changed = true
			}
			if !changed {
				return
			}
			logger.Info("Capture settings reloaded", "prefix", lib.Prefix(), "rotation", lib.Rotation())
			eventBus.Publish(events.SettingsChangedEvent{
				Prefix:    lib.Prefix(),
				Rotation:  lib.Rotation(),
				Timestamp: time.Now().Format(time.RFC3339),
			})
		})

		var lock *lockfile.Lock

		hooks.OnStart(func() {
			lock, err = lockfile.Acquire(opts.LockFile)
			if err != nil {
				logger.Error("Failed to acquire lock", "path", opts.LockFile, "error", err)
				os.Exit(1)
			}

			go worker.Run()

			// Large JPEG output; non-fatal on bodies without the key.
			go func() {
				if prepErr := worker.Prepare().Wait(context.Background()); prepErr != nil {
					logger.Warn("Startup camera configuration failed", "error", prepErr)
				}
			}()

			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Failed to start config watcher, hot-reload disabled", "error", watchErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			worker.Stop()
			select {
			case <-worker.Done():
			case <-time.After(10 * time.Second):
				logger.Warn("Camera worker did not stop in time")
			}

			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
			if lock != nil {
				if relErr := lock.Release(); relErr != nil {
					logger.Warn("Error releasing lock", "error", relErr)
				}
			}
		})
	})

	// Add one-shot capture command
	cli.Root().AddCommand(cmd.CreateShootCmd())

	// Run the CLI
	cli.Run()
}
