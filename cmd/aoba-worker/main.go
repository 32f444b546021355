// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command aoba-worker owns one serial port: it opens it, runs the
// station scheduler, serves the control-plane IPC socket, and
// optionally starts the HTTP and line-JSON socket data bridges.
// Adapted from the teacher's main.go: same config-load -> logger-setup
// -> start-components -> signal-wait -> graceful-cancel shape, reduced
// from a fleet of named gateways to the one port/worker this process
// always owns.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	bridgehttp "github.com/aoba-io/aoba/bridge/http"
	bridgesocket "github.com/aoba-io/aoba/bridge/socket"
	wireconfig "github.com/aoba-io/aoba/config"
	"github.com/aoba-io/aoba/internal/config"
	"github.com/aoba-io/aoba/ipc"
	"github.com/aoba-io/aoba/worker"
)

func main() {
	flags := pflag.NewFlagSet("aoba-worker", pflag.ExitOnError)
	configFile := flags.String("config", "", "Path to config file")
	flags.Parse(os.Args[1:])

	cfg, err := config.LoadConfig(*configFile, flags)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)
	slog.Info("Starting aoba-worker...", "device", cfg.Port.Device)

	framing := wireconfig.Framing8N1
	if cfg.Port.Framing == "other" {
		framing = wireconfig.FramingOther
	}
	w := worker.New(cfg.Port.Device, cfg.Port.BaudRate, framing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := ipc.Address(cfg.IPC.RuntimeDir, cfg.Port.Device)
	ln, err := ipc.Listen(addr)
	if err != nil {
		slog.Error("failed to bind IPC socket", "addr", addr, "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 4)

	go func() { errCh <- w.Run(ctx) }()
	go func() { errCh <- w.ServeIPC(ctx, ln) }()

	var httpBridge *bridgehttp.Bridge
	if cfg.HTTP.Enabled {
		httpBridge = bridgehttp.New(w)
		go func() {
			if err := httpBridge.Listen(portFromAddress(cfg.HTTP.Address)); err != nil {
				slog.Error("http bridge stopped", "err", err)
			}
		}()
	}

	var sockBridge *bridgesocket.Bridge
	if cfg.Sock.Enabled {
		sockBridge = bridgesocket.New(w, nil)
		go func() {
			if err := sockBridge.Listen("unix", cfg.Sock.Address); err != nil {
				slog.Error("socket bridge stopped", "err", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	if httpBridge != nil {
		httpBridge.Shutdown()
	}
	if sockBridge != nil {
		sockBridge.Close()
	}
	<-errCh
	<-errCh
	slog.Info("Goodbye.")
}

func portFromAddress(addr string) int {
	var port int
	fmt.Sscanf(addr, "127.0.0.1:%d", &port)
	return port
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
