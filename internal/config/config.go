// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the aoba-worker process's own bootstrap
// settings: which serial port it owns at startup, where its control
// socket and data bridges bind, and its log level/file. This is
// distinct from github.com/aoba-io/aoba/config, the wire model a
// StationsUpdate carries; the worker never reads station definitions
// from this file, only from IPC. Adapted from the teacher's
// internal/config.LoadConfig: same viper search-path/env/flag layering,
// one gateway-shaped struct reduced to one port-shaped one, since a
// worker owns exactly one port instead of a fleet of gateways.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is an aoba-worker process's bootstrap configuration.
type Config struct {
	Port PortConfig   `mapstructure:"port"`
	HTTP BridgeConfig `mapstructure:"http_bridge"`
	Sock BridgeConfig `mapstructure:"socket_bridge"`
	IPC  IPCConfig    `mapstructure:"ipc"`
	Log  LogConfig    `mapstructure:"log"`
}

// PortConfig names the physical serial port this worker owns.
type PortConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate uint32        `mapstructure:"baud_rate"`
	Framing  string        `mapstructure:"framing"` // "8n1" (default) or "other"
	Timeout  time.Duration `mapstructure:"timeout"`
}

// BridgeConfig enables and binds one optional data bridge.
type BridgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"` // e.g. "127.0.0.1:8080", or a unix socket path for the socket bridge
}

// IPCConfig names the control-plane socket's runtime directory.
type IPCConfig struct {
	RuntimeDir string `mapstructure:"runtime_dir"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`
}

// LoadConfig reads configFile (or the default search path when empty),
// layers environment variables (AOBA_* ) and flags over it, and
// applies fixups equivalent to the teacher's fixupSerial.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("aoba-worker")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/aoba/")
		v.AddConfigPath("$HOME/.aoba")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AOBA")
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("port.baud_rate", 9600)
	v.SetDefault("port.framing", "8n1")
	v.SetDefault("port.timeout", 500*time.Millisecond)
	v.SetDefault("ipc.runtime_dir", "/run/aoba")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.Port.Device == "" {
		return nil, fmt.Errorf("config: port.device is required")
	}
	if cfg.Port.Timeout == 0 {
		cfg.Port.Timeout = 500 * time.Millisecond
	}

	return &cfg, nil
}
