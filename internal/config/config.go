package config

import (
	"fmt"
	"time"

	"github.com/vovakirdan/linechat-server/internal/core"
)

// Config holds server configuration values.
type Config struct {
	TCPAddr           string        `mapstructure:"tcp_addr" yaml:"tcp_addr"`
	HTTPAddr          string        `mapstructure:"http_addr" yaml:"http_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxLineBytes      int           `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	OutboundQueue     int           `mapstructure:"outbound_queue" yaml:"outbound_queue"`
	WSLinesPerMinute  int           `mapstructure:"ws_lines_per_minute" yaml:"ws_lines_per_minute"`

	Rooms             []string `mapstructure:"rooms" yaml:"rooms"`
	AllowRoomCreation bool     `mapstructure:"allow_room_creation" yaml:"allow_room_creation"`
	HistoryCap        int      `mapstructure:"history_cap" yaml:"history_cap"`
	ReplayLimit       int      `mapstructure:"replay_limit" yaml:"replay_limit"`
	DatabasePath      string   `mapstructure:"database_path" yaml:"database_path"`

	Log  LogConfig  `mapstructure:"log" yaml:"log"`
	Game GameConfig `mapstructure:"game" yaml:"game"`
}

// LogConfig configures the main and activity loggers.
type LogConfig struct {
	Level        string `mapstructure:"level" yaml:"level"`
	File         string `mapstructure:"file" yaml:"file"`
	ActivityFile string `mapstructure:"activity_file" yaml:"activity_file"`
	MaxSizeMB    int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups   int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays   int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// GameConfig describes the optional text adventure child process.
// An empty Command disables the game.
type GameConfig struct {
	Command     string        `mapstructure:"command" yaml:"command"`
	Args        []string      `mapstructure:"args" yaml:"args"`
	Dir         string        `mapstructure:"dir" yaml:"dir"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		TCPAddr:           "0.0.0.0:65432",
		HTTPAddr:          "",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxLineBytes:      4096,
		OutboundQueue:     64,
		Rooms:             []string{"1", "2", "3", "4"},
		HistoryCap:        core.DefaultHistoryCap,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Game: GameConfig{
			StopTimeout: 5 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.TCPAddr != "" {
		c.TCPAddr = other.TCPAddr
	}
	if other.HTTPAddr != "" {
		c.HTTPAddr = other.HTTPAddr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.WriteTimeout != 0 {
		c.WriteTimeout = other.WriteTimeout
	}
	if other.IdleTimeout != 0 {
		c.IdleTimeout = other.IdleTimeout
	}
	if other.MaxLineBytes != 0 {
		c.MaxLineBytes = other.MaxLineBytes
	}
	if other.OutboundQueue != 0 {
		c.OutboundQueue = other.OutboundQueue
	}
	if other.WSLinesPerMinute != 0 {
		c.WSLinesPerMinute = other.WSLinesPerMinute
	}
	if len(other.Rooms) > 0 {
		c.Rooms = append([]string(nil), other.Rooms...)
	}
	if other.AllowRoomCreation {
		c.AllowRoomCreation = true
	}
	if other.HistoryCap != 0 {
		c.HistoryCap = other.HistoryCap
	}
	if other.ReplayLimit != 0 {
		c.ReplayLimit = other.ReplayLimit
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.File != "" {
		c.Log.File = other.Log.File
	}
	if other.Log.ActivityFile != "" {
		c.Log.ActivityFile = other.Log.ActivityFile
	}
	if other.Game.Command != "" {
		c.Game.Command = other.Game.Command
	}
	if len(other.Game.Args) > 0 {
		c.Game.Args = append([]string(nil), other.Game.Args...)
	}
	if other.Game.Dir != "" {
		c.Game.Dir = other.Game.Dir
	}
	if other.Game.StopTimeout != 0 {
		c.Game.StopTimeout = other.Game.StopTimeout
	}
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	if c.TCPAddr == "" && c.HTTPAddr == "" {
		return fmt.Errorf("at least one of tcp_addr or http_addr must be set")
	}
	if c.MaxLineBytes < 0 || c.OutboundQueue < 0 || c.HistoryCap < 0 || c.ReplayLimit < 0 {
		return fmt.Errorf("size limits must not be negative")
	}
	if len(c.Rooms) == 0 && !c.AllowRoomCreation {
		return fmt.Errorf("no rooms configured and room creation disabled")
	}
	for _, id := range c.Rooms {
		if err := core.ValidateRoomID(id); err != nil {
			return fmt.Errorf("room %q: %w", id, err)
		}
	}
	return nil
}
