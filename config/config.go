// Package config loads the medcharge configuration from an optional file and
// command-line flags.
package config

import (
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the configuration for medcharge.
type Config struct {
	Data   DataConfig   `mapstructure:"data"`
	Model  ModelConfig  `mapstructure:"model"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

// DataConfig locates the training dataset.
type DataConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ModelConfig holds the split and tree hyperparameters.
type ModelConfig struct {
	TestSize        float64 `mapstructure:"test_size" validate:"gt=0,lt=1"`
	RandomState     uint64  `mapstructure:"random_state"`
	MaxDepth        int     `mapstructure:"max_depth" validate:"gte=0"`
	MinSamplesSplit int     `mapstructure:"min_samples_split" validate:"gte=2"`
	MinSamplesLeaf  int     `mapstructure:"min_samples_leaf" validate:"gte=1"`
	CVFolds         int     `mapstructure:"cv_folds" validate:"gte=2"`
}

// ServerConfig configures the web form.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Console bool   `mapstructure:"console"`
}

// flag name → config key
var flagKeys = map[string]string{
	"data":      "data.path",
	"log-level": "log.level",
	"addr":      "server.addr",
	"max-depth": "model.max_depth",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.path", "Medical_insurance.csv")
	v.SetDefault("model.test_size", 0.2)
	v.SetDefault("model.random_state", 42)
	v.SetDefault("model.max_depth", 0)
	v.SetDefault("model.min_samples_split", 2)
	v.SetDefault("model.min_samples_leaf", 1)
	v.SetDefault("model.cv_folds", 5)
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)
}

// Default returns the configuration used when no file or flag overrides anything.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// Load reads the config file at path (skipped when empty), overlays the
// flags that were set on the command line and validates the result.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, errors.Wrapf(err, "bind flag --%s", name)
				}
			}
		}
	}
	return load(v)
}

// Parse reads a configuration of the given format ("toml", "yaml", ...) from r.
func Parse(r io.Reader, format string) (*Config, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their config key
	val.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return val
}

// Validate checks every field constraint and reports the first violation
// as an *errors.ValidationError keyed by its config path (e.g. model.test_size).
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		reason := "must satisfy " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return errors.NewValidationError(key, reason, fe.Value())
	}
	return errors.Wrap(err, "validate config")
}
