// main.go: saukko command line interface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Command saukko starts, stops and controls a saukko daemon.
//
// Usage:
//
//	saukko [start]          start the daemon in the background
//	saukko daemon           run the daemon in the foreground
//	saukko stop             stop the daemon
//	saukko health [plugin]  query the gRPC health service
//	saukko <command...>     send a command to the daemon
//
// Environment (a .env file in the working directory is loaded first):
//
//	SAUKKO_CONFIG_PATH         configuration file, default ./saukko.toml
//	SAUKKO_SOCKET_PATH         control socket, default daemon.socket
//	SAUKKO_HEALTH_SOCKET_PATH  health socket, default daemon.health_socket
//	SAUKKO_LOG_LEVEL           trace, debug, info, notice, warn, error, silent
//	SAUKKO_LOG_FORMAT          console or json
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	saukko "github.com/cocotais/go-saukko"
	"github.com/cocotais/go-saukko/daemon"
	"github.com/joho/godotenv"
)

const version = "0.1.0"

// settings are resolved from the environment, then the config file, then
// the defaults.
type settings struct {
	configPath       string
	socketPath       string
	healthSocketPath string
	logLevel         string
	logFormat        string
	config           *saukko.Config
}

func loadSettings() settings {
	cwd, _ := os.Getwd()
	s := settings{
		configPath:       os.Getenv("SAUKKO_CONFIG_PATH"),
		socketPath:       os.Getenv("SAUKKO_SOCKET_PATH"),
		healthSocketPath: os.Getenv("SAUKKO_HEALTH_SOCKET_PATH"),
		logLevel:         os.Getenv("SAUKKO_LOG_LEVEL"),
		logFormat:        os.Getenv("SAUKKO_LOG_FORMAT"),
	}
	if s.configPath == "" {
		s.configPath = filepath.Join(cwd, saukko.DefaultConfigPath)
	}

	if cfg, _, err := saukko.LoadConfigFile(s.configPath); err == nil {
		s.config = &cfg
		if s.socketPath == "" {
			s.socketPath = cfg.Daemon.Socket
		}
		if s.healthSocketPath == "" {
			s.healthSocketPath = cfg.Daemon.HealthSocket
		}
		if s.logLevel == "" {
			s.logLevel = cfg.Log.Level
		}
		if s.logFormat == "" {
			s.logFormat = cfg.Log.Format
		}
	}
	if s.socketPath == "" {
		s.socketPath = saukko.DefaultSocketPath
	}
	if !filepath.IsAbs(s.socketPath) {
		s.socketPath = filepath.Join(cwd, s.socketPath)
	}
	if s.healthSocketPath != "" && !filepath.IsAbs(s.healthSocketPath) {
		s.healthSocketPath = filepath.Join(cwd, s.healthSocketPath)
	}
	return s
}

func newLogger(s settings, name string) saukko.Logger {
	level, err := saukko.ParseLogLevel(s.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v, using info\n", err)
	}
	if s.logFormat == "json" {
		logger, err := saukko.NewZapLogger(level)
		if err == nil {
			return logger.With("app", name)
		}
		fmt.Fprintf(os.Stderr, "Failed to create JSON logger: %v\n", err)
	}
	return saukko.NewConsoleLogger(name, level)
}

func main() {
	// a missing .env file is fine
	_ = godotenv.Load()

	s := loadSettings()
	args := os.Args[1:]

	verb := "start"
	if len(args) > 0 {
		verb = args[0]
	}

	var err error
	switch verb {
	case "start":
		err = startDaemon(s, newLogger(s, "cli"))
	case "daemon":
		err = runDaemon(s, newLogger(s, "daemon"))
	case "stop":
		err = stopDaemon(s, newLogger(s, "cli"))
	case "health":
		plugin := ""
		if len(args) > 1 {
			plugin = args[1]
		}
		err = checkHealth(s, plugin)
	case "version", "--version", "-v":
		fmt.Printf("saukko v%s\n", version)
	default:
		err = sendCommand(s, newLogger(s, "cli"), args)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startDaemon(s settings, logger saukko.Logger) error {
	logger.Info("saukko", "version", version)
	if _, err := os.Stat(s.socketPath); err == nil {
		return fmt.Errorf("socket %s already exists, the daemon may be running; remove it if it is not", s.socketPath)
	}
	if s.config == nil {
		return fmt.Errorf("no configuration at %s", s.configPath)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate executable: %w", err)
	}
	// #nosec G204 -- re-executes this binary
	cmd := exec.Command(exe, "daemon")
	cmd.Env = append(os.Environ(),
		"SAUKKO_CONFIG_PATH="+s.configPath,
		"SAUKKO_SOCKET_PATH="+s.socketPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	logger.Info("Starting saukko daemon", "pid", cmd.Process.Pid)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	deadline := time.After(15 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-exited:
			if err != nil {
				return fmt.Errorf("daemon exited: %w", err)
			}
			return fmt.Errorf("daemon exited before it was ready")
		case <-deadline:
			return fmt.Errorf("daemon did not open %s in time", s.socketPath)
		case <-ticker.C:
			if _, err := os.Stat(s.socketPath); err == nil {
				logger.Info("Daemon ready", "socket", s.socketPath)
				return nil
			}
		}
	}
}

func runDaemon(s settings, logger saukko.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, s, logger)
}

// serve loads and starts the app and runs the daemon until ctx is done or a
// client asks it to stop. A ctx cancelled during startup stops the app
// before any socket is opened.
func serve(ctx context.Context, s settings, logger saukko.Logger) error {
	if s.config == nil {
		return fmt.Errorf("no configuration at %s", s.configPath)
	}
	app, err := saukko.NewApp(saukko.AppOptions{Logger: logger, ConfigPath: s.configPath})
	if err != nil {
		return err
	}

	scripts := daemon.LoadPlugins(app, logger)
	logger.Info("Plugins loaded", "scripts", scripts)

	if err := app.Start(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Info("Interrupted during startup")
		app.Stop()
		return nil
	}
	if err := app.WatchConfig(saukko.DefaultConfigWatcherOptions()); err != nil {
		logger.Warn("Config hot reload disabled", "error", err)
	}

	d := daemon.New(app, daemon.Options{
		SocketPath:       s.socketPath,
		HealthSocketPath: s.healthSocketPath,
		Logger:           logger,
	})
	return d.Run(ctx)
}

func stopDaemon(s settings, logger saukko.Logger) error {
	resp, err := daemon.Stop(s.socketPath)
	if err != nil {
		return fmt.Errorf("cannot reach the daemon, is it running? %w", err)
	}
	logger.Info(resp.Message)
	return nil
}

func sendCommand(s settings, logger saukko.Logger, args []string) error {
	resp, err := daemon.Command(s.socketPath, args...)
	if err != nil {
		return fmt.Errorf("cannot reach the daemon, is it running? %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Message)
	}
	if resp.Message != "" {
		fmt.Println(resp.Message)
	} else {
		logger.Info("Command sent to daemon")
	}
	return nil
}

func checkHealth(s settings, plugin string) error {
	if s.healthSocketPath == "" {
		return fmt.Errorf("health service is not configured, set daemon.health_socket")
	}
	status, err := daemon.CheckHealth(context.Background(), s.healthSocketPath, plugin)
	if err != nil {
		return err
	}
	fmt.Println(status)
	if status != "SERVING" {
		os.Exit(2)
	}
	return nil
}
