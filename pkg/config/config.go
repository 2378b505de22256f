// Package config carries the layered gsh.yaml configuration and the store
// backends it can live in. The effective config is defaults overlaid by
// the system file, then the user file, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/andrej220/gsh/pkg/config/filestore"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultForkLimit = 64
	DefaultClient    = "ssh"

	systemPath = "/etc/gsh/gsh.yaml"
	userSubdir = ".gsh"
	userFile   = "gsh.yaml"
)

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

type InventoryConfig struct {
	URI        string `yaml:"uri" json:"uri"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
}

// Config is the effective gsh configuration.
type Config struct {
	ForkLimit     int             `yaml:"forklimit" json:"forklimit" validate:"gte=1"`
	PrintMachines bool            `yaml:"print_machines" json:"print_machines"`
	Concurrent    bool            `yaml:"concurrent" json:"concurrent"`
	Timeout       int             `yaml:"timeout" json:"timeout" validate:"gte=0"` // seconds, 0 = no deadline
	Client        string          `yaml:"client" json:"client" validate:"required"`
	Output        string          `yaml:"output" json:"output"` // report path, "" = no report
	Hooks         []string        `yaml:"hooks" json:"hooks" validate:"dive,hookname"`
	Kafka         KafkaConfig     `yaml:"kafka" json:"kafka"`
	Inventory     InventoryConfig `yaml:"inventory" json:"inventory"`
}

// Default returns the built-in configuration used when no file overrides
// anything.
func Default() Config {
	return Config{
		ForkLimit:     DefaultForkLimit,
		PrintMachines: true,
		Concurrent:    true,
		Timeout:       0,
		Client:        DefaultClient,
		Hooks:         []string{"printer"},
	}
}

// Load builds the effective configuration: defaults, overlaid by the
// system file, overlaid by the user file. Missing, empty, and unreadable
// files are skipped; malformed YAML is an error.
func Load() (Config, error) {
	cfg := Default()
	paths := []string{systemPath}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, userSubdir, userFile))
	}
	for _, p := range paths {
		if err := cfg.MergeFile(p); err != nil && !layerSkippable(err) {
			return Config{}, err
		}
	}
	return cfg, nil
}

// layerSkippable reports whether Load treats a failed default layer as
// absent. An unreadable file (a root-owned system config, say) ranks with
// a missing one; MergeFile already tolerates missing and empty files, and
// malformed YAML is never skippable.
func layerSkippable(err error) bool {
	return errors.Is(err, os.ErrPermission)
}

// MergeFile overlays settings from path onto c. Keys absent from the file
// keep their current values, so later layers only override what they name.
func (c *Config) MergeFile(path string) error {
	store, err := NewStore(FileStore, &FileConfig{Path: path})
	if err != nil {
		return err
	}
	err = store.Load(c)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, filestore.ErrEmptyConfig) {
		return nil
	}
	return fmt.Errorf("merge %s: %w", path, err)
}

// Save writes the effective configuration to path through the file store's
// atomic replace.
func (c Config) Save(path string) error {
	store, err := NewStore(FileStore, &FileConfig{Path: path})
	if err != nil {
		return err
	}
	return store.Save(c)
}

// EffectiveForkLimit folds the concurrent toggle into the limit: a
// non-concurrent run is just a fork limit of one.
func (c Config) EffectiveForkLimit() int {
	if !c.Concurrent {
		return 1
	}
	return c.ForkLimit
}

func (c Config) hasHook(name string) bool {
	for _, h := range c.Hooks {
		if h == name {
			return true
		}
	}
	return false
}

var validate = validator.New()

var hooknameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

func init() {
	// hook names come from config files, keep them shell-friendly
	validate.RegisterValidation("hookname", func(fl validator.FieldLevel) bool {
		return hooknameRe.MatchString(fl.Field().String())
	})
}

// Validate checks structural rules plus the cross-field ones the tag
// language cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.hasHook("kafka") {
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("config validation: kafka hook enabled but kafka.brokers or kafka.topic missing")
		}
	}
	return nil
}
