package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultStatus           = "Expanding message links"
	DefaultMessageCacheSize = 100
	DefaultEmbedColor       = 0x02CAF7

	DefaultDotEnvPath = ".env"

	EnvConfigPath = "CONFIG_PATH"
	EnvToken      = "DISCORD_TOKEN"
	EnvLogLevel   = "EXPANDER_LOG_LEVEL"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their TOML key.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

type Config struct {
	Log      LogConfig      `toml:"log"`
	Discord  DiscordConfig  `toml:"discord"`
	Expander ExpanderConfig `toml:"expander"`
	Server   ServerConfig   `toml:"server"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type DiscordConfig struct {
	Token            string `toml:"token"`
	Status           string `toml:"status" validate:"max=128"`
	MessageCacheSize int    `toml:"message_cache_size" validate:"min=0"`
}

type ExpanderConfig struct {
	// LinkHosts overrides the hosts accepted in message links. Empty means the
	// discord.com family.
	LinkHosts []string `toml:"link_hosts" validate:"dive,hostname_rfc1123"`
	// MaxConcurrency bounds concurrent expansions. Zero is unbounded.
	MaxConcurrency int `toml:"max_concurrency" validate:"min=0"`
	// UserRatePerMinute throttles triggers per author. Zero disables it.
	UserRatePerMinute     int  `toml:"user_rate_per_minute" validate:"min=0"`
	EmbedColor            int  `toml:"embed_color" validate:"min=0,max=16777215"`
	DefaultAvatarFallback bool `toml:"default_avatar_fallback"`
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr" validate:"required_if=Enabled true"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Discord: DiscordConfig{
			Status:           DefaultStatus,
			MessageCacheSize: DefaultMessageCacheSize,
		},
		Expander: ExpanderConfig{
			EmbedColor: DefaultEmbedColor,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    DefaultHTTPAddr,
		},
	}
}

// ResolvePath picks the config file: explicit flag, then CONFIG_PATH, then the default.
func ResolvePath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(EnvConfigPath)); v != "" {
		return v
	}
	return DefaultConfigPath
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	applyEnv(&cfg)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	return cfg, nil
}

// LoadDotEnv loads variables from dotenv files without overriding ones already
// set in the process. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{DefaultDotEnvPath}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		cfg.Discord.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Discord.Token) == "" {
		errs = append(errs, fmt.Errorf("discord.token is required (set %s or discord.token)", EnvToken))
	}
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return errors.Join(append(errs, err)...)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, describe(fe))
		}
	}
	return errors.Join(errs...)
}

func describe(fe validator.FieldError) error {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "oneof":
		return fmt.Errorf("%s %q must be one of: %s", field, fe.Value(), fe.Param())
	case "min":
		return fmt.Errorf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Errorf("%s must be at most %s", field, fe.Param())
	case "hostname_rfc1123":
		return fmt.Errorf("%s %q is not a host name", field, fe.Value())
	case "required_if":
		return fmt.Errorf("%s is required when the server is enabled", field)
	default:
		return fmt.Errorf("%s failed %s validation", field, fe.Tag())
	}
}
