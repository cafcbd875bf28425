package psychics

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the manager settings.
type Config struct {
	// AbilitiesDir is scanned for ability bundles.
	AbilitiesDir string
	// PsychicsDir holds one concept template per psychic.
	PsychicsDir string
	// EspersDir holds the per owner records of the FileStore.
	EspersDir string

	// TickRate is the wall clock interval between driver ticks.
	TickRate time.Duration
	// TicksPerSecond converts per second rates into per tick rates.
	TicksPerSecond int
	// Workers is the size of the driver's worker pool.
	Workers int

	// Watch enables reloading when bundles or templates change.
	Watch bool
	// WatchDebounce coalesces bursts of file events into one reload.
	WatchDebounce time.Duration
}

// DefaultConfig returns the settings used for keys missing from a config file.
func DefaultConfig() Config {
	return Config{
		AbilitiesDir:   "abilities",
		PsychicsDir:    "psychics",
		EspersDir:      "espers",
		TickRate:       50 * time.Millisecond,
		TicksPerSecond: DefaultTicksPerSecond,
		Workers:        max(runtime.GOMAXPROCS(0), 1),
		WatchDebounce:  500 * time.Millisecond,
	}
}

// WithRoot returns a copy of c with relative directories resolved against root.
func (c Config) WithRoot(root string) Config {
	for _, dir := range []*string{&c.AbilitiesDir, &c.PsychicsDir, &c.EspersDir} {
		if *dir != "" && !filepath.IsAbs(*dir) {
			*dir = filepath.Join(root, *dir)
		}
	}
	return c
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.AbilitiesDir) == "":
		return errors.New("abilities_dir is required")
	case strings.TrimSpace(c.PsychicsDir) == "":
		return errors.New("psychics_dir is required")
	case c.TickRate <= 0:
		return fmt.Errorf("tick_rate must be positive: %s", c.TickRate)
	case c.TicksPerSecond <= 0:
		return fmt.Errorf("ticks_per_second must be positive: %d", c.TicksPerSecond)
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive: %d", c.Workers)
	case c.Watch && c.WatchDebounce < 0:
		return fmt.Errorf("watch_debounce must not be negative: %s", c.WatchDebounce)
	}
	return nil
}

type fileConfig struct {
	AbilitiesDir   string `toml:"abilities_dir"`
	PsychicsDir    string `toml:"psychics_dir"`
	EspersDir      string `toml:"espers_dir"`
	TickRate       string `toml:"tick_rate"`
	TicksPerSecond int    `toml:"ticks_per_second"`
	Workers        int    `toml:"workers"`
	Watch          bool   `toml:"watch"`
	WatchDebounce  string `toml:"watch_debounce"`
}

// LoadConfig reads a TOML config file. Keys missing from the file keep their
// DefaultConfig value and relative directories are resolved against the
// file's directory.
func LoadConfig(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load psychics config: %w", err)
	}
	cfg, err := applyFileConfig(DefaultConfig(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.WithRoot(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate psychics config: %w", err)
	}
	return cfg, nil
}

// ParseConfig decodes a TOML document without resolving directories.
func ParseConfig(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse psychics config: %w", err)
	}
	cfg, err := applyFileConfig(DefaultConfig(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate psychics config: %w", err)
	}
	return cfg, nil
}

func applyFileConfig(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("abilities_dir") {
		cfg.AbilitiesDir = strings.TrimSpace(raw.AbilitiesDir)
	}
	if meta.IsDefined("psychics_dir") {
		cfg.PsychicsDir = strings.TrimSpace(raw.PsychicsDir)
	}
	if meta.IsDefined("espers_dir") {
		cfg.EspersDir = strings.TrimSpace(raw.EspersDir)
	}

	if meta.IsDefined("tick_rate") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TickRate))
		if err != nil {
			return Config{}, fmt.Errorf("parse tick_rate: %w", err)
		}
		cfg.TickRate = d
	}
	if meta.IsDefined("ticks_per_second") {
		cfg.TicksPerSecond = raw.TicksPerSecond
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}

	if meta.IsDefined("watch") {
		cfg.Watch = raw.Watch
	}
	if meta.IsDefined("watch_debounce") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WatchDebounce))
		if err != nil {
			return Config{}, fmt.Errorf("parse watch_debounce: %w", err)
		}
		cfg.WatchDebounce = d
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return cfg, nil
}
