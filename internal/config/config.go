// Package config loads settings from flags, VMCAP_* environment variables
// and .vmcap.yaml into a typed Config.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jeeftor/vmcap/internal/filesystem"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names (VMCAP_LOG_LEVEL).
const EnvPrefix = "VMCAP"

// FileName is the config file name without extension.
const FileName = ".vmcap"

// DefaultBasePath holds images, the NVRAM database and the daemon socket.
const DefaultBasePath = "~/.vmcap"

type QMPConfig struct {
	SocketDir string `mapstructure:"socket_dir"`
}

type DaemonConfig struct {
	Socket   string `mapstructure:"socket"`
	BasePath string `mapstructure:"base_path"`
	// Catalog overrides the built-in restore image list.
	Catalog string `mapstructure:"catalog"`
	// StopTimeout bounds a graceful guest shutdown before the machine is halted.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

type NVRAMConfig struct {
	Database string `mapstructure:"database"`
}

type QEMUConfig struct {
	Binary   string `mapstructure:"binary"`
	MemoryMB int    `mapstructure:"memory_mb"`
	CPUs     int    `mapstructure:"cpus"`
	Netdev   string `mapstructure:"netdev"`
	Display  string `mapstructure:"display"`
}

type InputConfig struct {
	KeyHold       time.Duration `mapstructure:"key_hold"`
	KeyGap        time.Duration `mapstructure:"key_gap"`
	PointerSettle time.Duration `mapstructure:"pointer_settle"`
}

type AutomationConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type OCRConfig struct {
	Columns      int    `mapstructure:"columns"`
	Rows         int    `mapstructure:"rows"`
	TrainingData string `mapstructure:"training_data"`
}

type ScreenshotConfig struct {
	Format string `mapstructure:"format"`
}

// Config is the resolved configuration.
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	Socket     string           `mapstructure:"socket"`
	QMP        QMPConfig        `mapstructure:"qmp"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
	NVRAM      NVRAMConfig      `mapstructure:"nvram"`
	QEMU       QEMUConfig       `mapstructure:"qemu"`
	Input      InputConfig      `mapstructure:"input"`
	Automation AutomationConfig `mapstructure:"automation"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("socket", "")
	v.SetDefault("qmp.socket_dir", "/var/run/qemu-server")
	v.SetDefault("daemon.base_path", DefaultBasePath)
	v.SetDefault("daemon.socket", "")
	v.SetDefault("daemon.catalog", "")
	v.SetDefault("daemon.stop_timeout", 30*time.Second)
	v.SetDefault("nvram.database", "")
	v.SetDefault("qemu.binary", "qemu-system-aarch64")
	v.SetDefault("qemu.memory_mb", 4096)
	v.SetDefault("qemu.cpus", 4)
	v.SetDefault("qemu.netdev", "user")
	v.SetDefault("qemu.display", "virtio-gpu-pci")
	v.SetDefault("input.key_hold", 100*time.Millisecond)
	v.SetDefault("input.key_gap", 20*time.Millisecond)
	v.SetDefault("input.pointer_settle", 200*time.Millisecond)
	v.SetDefault("automation.poll_interval", time.Second)
	v.SetDefault("ocr.columns", 160)
	v.SetDefault("ocr.rows", 50)
	v.SetDefault("ocr.training_data", "")
	v.SetDefault("screenshot.format", "png")
}

// Load decodes v into a Config and resolves derived paths. The daemon
// socket and NVRAM database default to files under the base path.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	base, err := filesystem.ExpandPath(cfg.Daemon.BasePath)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon.base_path: %w", err)
	}
	cfg.Daemon.BasePath = base

	if cfg.Daemon.Socket == "" {
		cfg.Daemon.Socket = filepath.Join(base, "daemon.sock")
	} else if cfg.Daemon.Socket, err = filesystem.ExpandPath(cfg.Daemon.Socket); err != nil {
		return nil, fmt.Errorf("invalid daemon.socket: %w", err)
	}

	if cfg.NVRAM.Database == "" {
		cfg.NVRAM.Database = filepath.Join(base, "nvram.db")
	} else if cfg.NVRAM.Database, err = filesystem.ExpandPath(cfg.NVRAM.Database); err != nil {
		return nil, fmt.Errorf("invalid nvram.database: %w", err)
	}

	if cfg.OCR.TrainingData != "" {
		if cfg.OCR.TrainingData, err = filesystem.ExpandPath(cfg.OCR.TrainingData); err != nil {
			return nil, fmt.Errorf("invalid ocr.training_data: %w", err)
		}
	}
	return &cfg, nil
}
