// Package config loads slotbot's settings from defaults, an optional YAML
// file, and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfigMissing is wrapped by MissingError
var ErrConfigMissing = errors.New("required configuration missing")

// MissingError lists the environment variables that must be set
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfigMissing, strings.Join(e.Keys, ", "))
}

func (e *MissingError) Unwrap() error { return ErrConfigMissing }

// Config is the full application configuration
type Config struct {
	Identity   IdentityConfig   `mapstructure:"identity" yaml:"identity"`
	TargetURL  string           `mapstructure:"target_url" yaml:"target_url"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Timeouts   TimeoutConfig    `mapstructure:"timeouts" yaml:"timeouts"`
	Activation ActivationConfig `mapstructure:"activation" yaml:"activation"`
	Artifacts  ArtifactConfig   `mapstructure:"artifacts" yaml:"artifacts"`
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
}

// IdentityConfig is who the appointment is for
type IdentityConfig struct {
	FirstName string `mapstructure:"first_name" yaml:"first_name"`
	LastName  string `mapstructure:"last_name" yaml:"last_name"`
	Email     string `mapstructure:"email" yaml:"email"`
	Phone     string `mapstructure:"phone" yaml:"phone"`
	StudentID string `mapstructure:"student_id" yaml:"student_id"`
}

// BrowserConfig selects and shapes the browser
type BrowserConfig struct {
	// Driver is "rod" or "playwright".
	Driver            string  `mapstructure:"driver" yaml:"driver"`
	Headless          bool    `mapstructure:"headless" yaml:"headless"`
	Locale            string  `mapstructure:"locale" yaml:"locale"`
	UserAgent         string  `mapstructure:"user_agent" yaml:"user_agent"`
	ViewportWidth     int     `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int     `mapstructure:"viewport_height" yaml:"viewport_height"`
	DeviceScaleFactor float64 `mapstructure:"device_scale_factor" yaml:"device_scale_factor"`
	// Bin overrides the browser executable; empty uses the driver's managed browser.
	Bin string `mapstructure:"bin" yaml:"bin"`
}

// TimeoutConfig bounds every wait in a run
type TimeoutConfig struct {
	PageLoad        time.Duration `mapstructure:"page_load" yaml:"page_load"`
	FormOpen        time.Duration `mapstructure:"form_open" yaml:"form_open"`
	Field           time.Duration `mapstructure:"field" yaml:"field"`
	Confirmation    time.Duration `mapstructure:"confirmation" yaml:"confirmation"`
	PostConfirmWait time.Duration `mapstructure:"post_confirm_wait" yaml:"post_confirm_wait"`
	FormSettle      time.Duration `mapstructure:"form_settle" yaml:"form_settle"`
}

// ActivationConfig tunes the activation ladder
type ActivationConfig struct {
	MoveSteps     int           `mapstructure:"move_steps" yaml:"move_steps"`
	PrePressPause time.Duration `mapstructure:"pre_press_pause" yaml:"pre_press_pause"`
	Hold          time.Duration `mapstructure:"hold" yaml:"hold"`
	Settle        time.Duration `mapstructure:"settle" yaml:"settle"`
	Recheck       time.Duration `mapstructure:"recheck" yaml:"recheck"`
}

// ArtifactConfig controls diagnostic output
type ArtifactConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	MaxWidth uint   `mapstructure:"max_width" yaml:"max_width"`
	Timeline bool   `mapstructure:"timeline" yaml:"timeline"`
	// MarkPointer draws the last pointer press onto screenshots.
	MarkPointer bool `mapstructure:"mark_pointer" yaml:"mark_pointer"`
}

// LoggerConfig holds logging settings
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// envKeys maps required settings to the variables users set in .env
var envKeys = []struct{ key, env string }{
	{"identity.first_name", "FIRST_NAME"},
	{"identity.last_name", "LAST_NAME"},
	{"identity.email", "EMAIL"},
	{"identity.phone", "PHONE"},
	{"identity.student_id", "STUDENT_ID"},
	{"target_url", "TARGET_URL"},
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	// -- Browser --
	v.SetDefault("browser.driver", "rod")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.locale", "th-TH")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.device_scale_factor", 1.0)
	v.SetDefault("browser.bin", "")

	// -- Timeouts --
	v.SetDefault("timeouts.page_load", "60s")
	v.SetDefault("timeouts.form_open", "10s")
	v.SetDefault("timeouts.field", "10s")
	v.SetDefault("timeouts.confirmation", "30s")
	v.SetDefault("timeouts.post_confirm_wait", "10s")
	v.SetDefault("timeouts.form_settle", "500ms")

	// -- Activation --
	v.SetDefault("activation.move_steps", 10)
	v.SetDefault("activation.pre_press_pause", "200ms")
	v.SetDefault("activation.hold", "100ms")
	v.SetDefault("activation.settle", "1s")
	v.SetDefault("activation.recheck", "500ms")

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "results")
	v.SetDefault("artifacts.max_width", 0)
	v.SetDefault("artifacts.timeline", false)
	v.SetDefault("artifacts.mark_pointer", true)

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "slotbot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
}

// BindEnv wires the plain identity variables and SLOTBOT_-prefixed
// overrides for everything else.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("SLOTBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k.key, k.env)
	}
}

// NewDefaultConfig returns a Config holding only defaults
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load reads path (if non-empty) into a fresh viper instance and decodes it.
// The result is not validated.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := NewConfigFromViper(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// NewConfigFromViper decodes v into a Config
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and sane values. Missing identity or URL
// yields a *MissingError.
func (c *Config) Validate() error {
	values := map[string]string{
		"FIRST_NAME": c.Identity.FirstName,
		"LAST_NAME":  c.Identity.LastName,
		"EMAIL":      c.Identity.Email,
		"PHONE":      c.Identity.Phone,
		"STUDENT_ID": c.Identity.StudentID,
		"TARGET_URL": c.TargetURL,
	}
	var missing []string
	for _, k := range envKeys {
		if strings.TrimSpace(values[k.env]) == "" {
			missing = append(missing, k.env)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}

	u, err := url.Parse(c.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target_url must be an absolute http(s) URL, got %q", c.TargetURL)
	}
	switch c.Browser.Driver {
	case "rod", "playwright":
	default:
		return fmt.Errorf("browser.driver must be rod or playwright, got %q", c.Browser.Driver)
	}
	if c.Activation.MoveSteps <= 0 {
		return fmt.Errorf("activation.move_steps must be a positive integer")
	}
	if c.Timeouts.PageLoad <= 0 || c.Timeouts.FormOpen <= 0 || c.Timeouts.Field <= 0 || c.Timeouts.Confirmation <= 0 {
		return fmt.Errorf("timeouts must be positive durations")
	}
	return nil
}
