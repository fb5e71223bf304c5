// Package config loads, validates and describes the interop runtime
// configuration.
package config

import (
	stderrors "errors"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-interop/errors"
)

// DefaultHostModule matches dispatch.DefaultHostModule.
const DefaultHostModule = "Blazor._internal"

// Config is the runtime configuration.
type Config struct {
	HostModule   string   `toml:"host_module" json:"host_module" validate:"required" jsonschema:"description=Module name the guest imports entry points from,default=Blazor._internal"`
	Memory       Memory   `toml:"memory" json:"memory"`
	Transfer     Transfer `toml:"transfer" json:"transfer"`
	Log          Log      `toml:"log" json:"log"`
	AwaitTimeout Duration `toml:"await_timeout" json:"await_timeout" jsonschema:"description=How long the interop command waits for an asynchronous call"`
}

// Memory sizes the guest's linear memory in 64 KiB pages.
type Memory struct {
	InitialPages uint32 `toml:"initial_pages" json:"initial_pages" validate:"gte=1,lte=65536" jsonschema:"minimum=1,maximum=65536,default=1"`
	MaxPages     uint32 `toml:"max_pages" json:"max_pages" validate:"omitempty,gtefield=InitialPages,lte=65536" jsonschema:"maximum=65536,description=0 leaves memory unbounded"`
}

// Transfer limits the byte transfer channel.
type Transfer struct {
	MaxPayload int `toml:"max_payload" json:"max_payload" validate:"gte=0" jsonschema:"minimum=0,description=Largest byte payload in bytes; 0 uses the built-in limit"`
}

// Log configures logging.
type Log struct {
	Level  string `toml:"level" json:"level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Format string `toml:"format" json:"format" validate:"oneof=json console" jsonschema:"enum=json,enum=console,default=console"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HostModule: DefaultHostModule,
		Memory: Memory{
			InitialPages: 1,
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		AwaitTimeout: Duration(5 * time.Second),
	}
}

var validate = validator.New()

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read "+path)
	}
	return Parse(data)
}

// Parse decodes TOML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse configuration")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(keys).
			Detail("unknown configuration keys: %s", strings.Join(keys, ", ")).
			Build()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags of c.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) || len(verrs) == 0 {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "validate configuration")
	}
	fe := verrs[0]
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(strings.Split(fe.Namespace(), ".")[1:]...).
		Value(fe.Value()).
		Cause(err).
		Detail("%s fails %q", fe.Field(), fe.Tag()).
		Build()
}

// Logger builds the zap logger described by l.
func (l Log) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}
	zc := zap.NewProductionConfig()
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
