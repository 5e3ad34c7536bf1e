package app

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath            string        `yaml:"db_path" validate:"required"`
	Addr              string        `yaml:"addr" validate:"required"`
	LogLevel          string        `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat         string        `yaml:"log_format" validate:"omitempty,oneof=json pretty"`
	Categories        []string      `yaml:"categories" validate:"dive,required,printascii,max=64"`
	WebhookURL        string        `yaml:"webhook_url" validate:"omitempty,url"`
	WebhookSecret     string        `yaml:"webhook_secret" validate:"required_with=WebhookURL"`
	DispatchInterval  time.Duration `yaml:"dispatch_interval" validate:"gt=0"`
	DispatchBatchSize int           `yaml:"dispatch_batch_size" validate:"gt=0,lte=1000"`
	BootstrapAPIKey   string        `yaml:"-"`
	BootstrapKeyName  string        `yaml:"bootstrap_key_name"`
}

func DefaultConfig() Config {
	return Config{
		DBPath:            "./qbank.sqlite",
		Addr:              ":8080",
		LogLevel:          "info",
		LogFormat:         "json",
		DispatchInterval:  2 * time.Second,
		DispatchBatchSize: 100,
		BootstrapKeyName:  "bootstrap",
	}
}

// LoadConfigFile overlays the YAML file at path onto cfg. Keys missing from the file
// keep their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func (c Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Field() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
}
