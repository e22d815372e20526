package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/camhw/cmd"
	"github.com/smazurov/camhw/internal/api"
	"github.com/smazurov/camhw/internal/config"
	"github.com/smazurov/camhw/internal/events"
	"github.com/smazurov/camhw/internal/hotplug"
	"github.com/smazurov/camhw/internal/kmd"
	"github.com/smazurov/camhw/internal/logging"
	"github.com/smazurov/camhw/internal/metrics/exporters"
	"github.com/smazurov/camhw/internal/registry"
	"github.com/smazurov/camhw/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Registry settings
	RegistrySysfsClassDir string `help:"video4linux class directory" default:"/sys/class/video4linux" toml:"registry.sysfs_class_dir" env:"REGISTRY_SYSFS_CLASS_DIR"`
	RegistryDevDir        string `help:"Device node directory" default:"/dev" toml:"registry.dev_dir" env:"REGISTRY_DEV_DIR"`
	RegistryMaxDevices    int    `help:"Device table capacity" default:"64" toml:"registry.max_devices" env:"REGISTRY_MAX_DEVICES"`
	RegistryMaxSessions   int    `help:"Session table capacity" default:"16" toml:"registry.max_sessions" env:"REGISTRY_MAX_SESSIONS"`
	RegistryMaxLinks      int    `help:"Links per session" default:"8" toml:"registry.max_links" env:"REGISTRY_MAX_LINKS"`
	RegistryEagerCaps     bool   `help:"Query capabilities when a device is added" default:"false" toml:"registry.eager_caps" env:"REGISTRY_EAGER_CAPS"`

	// Poll thread settings
	PollShutdownTimeout string `help:"How long Close waits for the poll thread" default:"1s" toml:"poll.shutdown_timeout" env:"POLL_SHUTDOWN_TIMEOUT"`

	// Hotplug settings
	HotplugEnabled bool `help:"Follow kernel uevents for camera nodes" default:"true" toml:"hotplug.enabled" env:"HOTPLUG_ENABLED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRegistry string `help:"Registry logging level" default:"info" toml:"logging.registry" env:"LOGGING_REGISTRY"`
	LoggingHwdev    string `help:"Device logging level" default:"info" toml:"logging.hwdev" env:"LOGGING_HWDEV"`
	LoggingPoll     string `help:"Poll thread logging level" default:"info" toml:"logging.poll" env:"LOGGING_POLL"`
	LoggingHotplug  string `help:"Hotplug logging level" default:"info" toml:"logging.hotplug" env:"LOGGING_HOTPLUG"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP     string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

const shutdownTimeout = 5 * time.Second

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"registry": opts.LoggingRegistry,
				"hwdev":    opts.LoggingHwdev,
				"poll":     opts.LoggingPoll,
				"hotplug":  opts.LoggingHotplug,
				"api":      opts.LoggingAPI,
				"http":     opts.LoggingHTTP,
			},
		})

		logger := logging.GetLogger("main")

		ctx, cancel := context.WithCancel(context.Background())
		var (
			inst    *registry.Instance
			server  *api.Server
			monitor *hotplug.Monitor
			watchWG sync.WaitGroup
			watcher *config.Watcher[logging.Config]
		)

		hooks.OnStart(func() {
			logger.Info("Starting camhw", "version", version.String())

			eventBus := events.New()
			logging.SetLogCallback(func(entry logging.LogEntry) {
				eventBus.Publish(api.LogEvent(entry))
			})

			pollTimeout, err := time.ParseDuration(opts.PollShutdownTimeout)
			if err != nil {
				logger.Warn("Invalid poll shutdown timeout, using default", "value", opts.PollShutdownTimeout, "error", err)
				pollTimeout = registry.DefaultPollShutdownTimeout
			}

			inst, err = registry.New(registry.Options{
				Driver:              kmd.NewLinux(),
				MaxDevices:          opts.RegistryMaxDevices,
				MaxSessions:         opts.RegistryMaxSessions,
				MaxLinks:            opts.RegistryMaxLinks,
				SysfsClassDir:       opts.RegistrySysfsClassDir,
				DevDir:              opts.RegistryDevDir,
				PollShutdownTimeout: pollTimeout,
				EagerCaps:           opts.RegistryEagerCaps,
				Events:              eventBus,
			})
			if err != nil {
				logger.Error("Failed to create registry", "error", err)
				os.Exit(1)
			}

			if _, err := inst.Enumerate(ctx); err != nil {
				logger.Warn("Initial enumeration failed", "error", err)
			}

			if opts.HotplugEnabled {
				hotplugLogger := logging.GetLogger("hotplug")
				monitor, err = hotplug.NewMonitor(hotplug.SubsystemVideo4Linux)
				if err != nil {
					hotplugLogger.Warn("Hotplug disabled", "error", err)
				} else {
					watchWG.Add(1)
					go func() {
						defer watchWG.Done()
						if err := hotplug.Watch(ctx, monitor, inst, hotplugLogger); err != nil {
							hotplugLogger.Error("Hotplug watch stopped", "error", err)
						}
					}()
				}
			}

			watcher = config.NewConfigWatcher(opts.Config, config.ReadLoggingConfig, logger)
			watcher.OnReload(func(cfg logging.Config) {
				logging.Reconfigure(cfg)
				logger.Info("Logging configuration reloaded", "level", cfg.Level)
			})
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("Config watcher not started", "path", opts.Config, "error", err)
			}

			server = api.NewServer(api.Options{
				AuthUsername:      opts.AuthUsername,
				AuthPassword:      opts.AuthPassword,
				Registry:          inst,
				Events:            eventBus,
				PrometheusHandler: exporters.HTTPHandler(),
			})

			logger.Info("Starting HTTP server", "port", opts.Port)
			if err := server.Start(opts.Port); err != nil {
				logger.Error("Failed to start HTTP server", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")

			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if server != nil {
				if err := server.Shutdown(stopCtx); err != nil {
					logger.Error("Error stopping HTTP server", "error", err)
				}
			}

			cancel()
			if watcher != nil {
				if err := watcher.Stop(); err != nil {
					logger.Warn("Error stopping config watcher", "error", err)
				}
			}
			watchWG.Wait()
			if monitor != nil {
				_ = monitor.Close()
			}
			if inst != nil {
				if err := inst.Close(); err != nil {
					logger.Error("Error closing registry", "error", err)
				}
			}
		})
	})

	cli.Root().Use = "camhw"
	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	cli.Run()
}
