// Package config loads the optional .class-index.yaml project file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = ".class-index.yaml"

// DefaultMarker is the meta-annotation that makes an annotation indexable.
const DefaultMarker = "org.classindex.Indexable"

// Config is the merged configuration of a run.
type Config struct {
	// Classes is the compiled-classes directory, or a project root whose
	// build tool tells where classes go.
	Classes string `yaml:"classes"`
	// Output receives the fragments; defaults to Classes. A path ending in
	// .jar makes aggregate write an archive.
	Output string `yaml:"output"`
	// Classpath lists dependency directories and jars.
	Classpath []string `yaml:"classpath" validate:"dive,required"`
	// Indexable names annotation types indexed even without the marker.
	Indexable []string `yaml:"indexable" validate:"dive,required"`
	// Marker is the meta-annotation of indexable annotation types.
	Marker string `yaml:"marker" validate:"required"`
	// CacheDir holds incremental snapshots.
	CacheDir string `yaml:"cacheDir"`
	// Workers bounds parallel class scanning; 0 means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0,lte=256"`
	// Full ignores the snapshot and rescans every class.
	Full bool `yaml:"full"`

	Log         Log    `yaml:"log"`
	MetricsFile string `yaml:"metricsFile"`
	Watch       Watch  `yaml:"watch"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
}

// Watch configures watch mode.
type Watch struct {
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Marker: DefaultMarker,
		Log:    Log{Level: "info", Format: "auto"},
		Watch:  Watch{Debounce: 300 * time.Millisecond},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads path over the defaults. An empty path tries DefaultFile and
// silently keeps the defaults when it does not exist; an explicit path
// must exist.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	return validate.Struct(c)
}

// OutputDir returns Output, falling back to classes.
func (c Config) OutputDir(classes string) string {
	if c.Output != "" {
		return c.Output
	}
	return classes
}
