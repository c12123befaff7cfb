package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: Load creates the file with defaults on first run; Save writes
// atomically with 0600 permissions.

// SerialConfig describes the recorder's serial link.
type SerialConfig struct {
	// Baud is the line speed; recorders talk at 9600.
	Baud int `yaml:"baud"`

	// ReadTimeout bounds every line read (handshake and responses).
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// SettleDelay is waited after opening a port before the first exchange.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// SyncAttempts caps how many times the set-clock command is re-sent
	// while waiting for a parseable echo.
	SyncAttempts int `yaml:"sync_attempts"`

	// SyncTimeout is the wall-clock budget of one device sync.
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// ExportConfig names the files written onto a removable destination.
type ExportConfig struct {
	ScheduleFilename string `yaml:"schedule_filename"`
	// PluginFile, if set, is copied next to the schedule.
	PluginFile string `yaml:"plugin_file"`
	// DoneFilename is the recorder's completion marker; it is removed before
	// a new schedule is written.
	DoneFilename string `yaml:"done_filename"`
}

// DrivesConfig controls removable destination discovery.
type DrivesConfig struct {
	// Poll is a cron spec for the background refresh (e.g. "@every 1s").
	Poll string `yaml:"poll"`
	// FSTypes lists accepted filesystem types.
	FSTypes []string `yaml:"fstypes"`
	// RequireOpts lists mount options a partition must carry.
	RequireOpts []string `yaml:"require_opts"`
}

// RecurrenceConfig bounds recurring series.
type RecurrenceConfig struct {
	MaxOccurrences int `yaml:"max_occurrences"`
}

// Config is the top-level application configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Archive is the schedule file used when --archive is not given.
	Archive string `yaml:"archive"`

	Recurrence RecurrenceConfig `yaml:"recurrence"`
	Serial     SerialConfig     `yaml:"serial"`
	Export     ExportConfig     `yaml:"export"`
	Drives     DrivesConfig     `yaml:"drives"`
}

// DefaultDir is where config and archive live unless overridden.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".reccal"
	}
	return filepath.Join(home, ".reccal")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Archive:  filepath.Join(DefaultDir(), "schedule.rcal"),
		Recurrence: RecurrenceConfig{
			MaxOccurrences: 10000,
		},
		Serial: SerialConfig{
			Baud:         9600,
			ReadTimeout:  2 * time.Second,
			SettleDelay:  time.Second,
			SyncAttempts: 10,
			SyncTimeout:  30 * time.Second,
		},
		Export: ExportConfig{
			ScheduleFilename: "schedule.txt",
			DoneFilename:     "DONE",
		},
		Drives: DrivesConfig{
			Poll:        "@every 1s",
			FSTypes:     []string{"vfat", "FAT32", "msdos"},
			RequireOpts: []string{"nosuid"},
		},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = def.LogLevel
	}
	if c.Archive == "" {
		c.Archive = def.Archive
	}
	if c.Recurrence.MaxOccurrences <= 0 {
		c.Recurrence.MaxOccurrences = def.Recurrence.MaxOccurrences
	}

	if c.Serial.Baud <= 0 {
		c.Serial.Baud = def.Serial.Baud
	}
	if c.Serial.ReadTimeout <= 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}
	// A zero settle delay is legitimate; only negative values are reset.
	if c.Serial.SettleDelay < 0 {
		c.Serial.SettleDelay = def.Serial.SettleDelay
	}
	if c.Serial.SyncAttempts <= 0 {
		c.Serial.SyncAttempts = def.Serial.SyncAttempts
	}
	if c.Serial.SyncTimeout <= 0 {
		c.Serial.SyncTimeout = def.Serial.SyncTimeout
	}

	if c.Export.ScheduleFilename == "" {
		c.Export.ScheduleFilename = def.Export.ScheduleFilename
	}
	if c.Export.DoneFilename == "" {
		c.Export.DoneFilename = def.Export.DoneFilename
	}

	if c.Drives.Poll == "" {
		c.Drives.Poll = def.Drives.Poll
	}
	if c.Drives.FSTypes == nil {
		c.Drives.FSTypes = def.Drives.FSTypes
	}
	if c.Drives.RequireOpts == nil {
		c.Drives.RequireOpts = def.Drives.RequireOpts
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path through a temp file in the same directory and a
// rename, leaving the final file with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".reccal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
