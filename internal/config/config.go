package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Config contains runtime configuration required by the service.
//
// Values come from defaults, then the optional YAML file, then environment
// variables; later sources win.
type Config struct {
	// Addr is the HTTP listen address.
	Addr  string `yaml:"addr" validate:"required"`
	DBURL string `yaml:"dbUrl" validate:"required"`
	// APIKeys maps apiKey -> client name. Only settable through API_KEYS.
	APIKeys map[string]string `yaml:"-" validate:"min=1"`

	Workers int `yaml:"workers" validate:"min=1"`
	// DedupWindowMs is how close two identical spins on one wheel must be to count once.
	DedupWindowMs int64 `yaml:"dedupWindowMs" validate:"gte=0"`
	// DedupRetentionMs is how long a spin dedup entry is kept.
	DedupRetentionMs  int64 `yaml:"dedupRetentionMs" validate:"gtefield=DedupWindowMs"`
	CleanupIntervalMs int64 `yaml:"cleanupIntervalMs" validate:"gt=0"`

	HamsterInactivityMs int64 `yaml:"hamsterInactivityMs" validate:"gt=0"`
	SensorInactivityMs  int64 `yaml:"sensorInactivityMs" validate:"gt=0"`
	MonitorIntervalMs   int64 `yaml:"monitorIntervalMs" validate:"gt=0"`

	RoundDurationMs int64 `yaml:"roundDurationMs" validate:"gt=0"`
	// ActiveThreshold: a hamster is active on a day when it ran more rounds than this.
	ActiveThreshold int64 `yaml:"activeThreshold" validate:"gte=0"`

	ExportDaysBack int    `yaml:"exportDaysBack" validate:"min=1"`
	ExportCron     string `yaml:"exportCron" validate:"required"`
	TimeZone       string `yaml:"timeZone" validate:"required"`

	// IngressBuffer bounds the dispatcher queue; 0 means unbounded.
	IngressBuffer int `yaml:"ingressBuffer" validate:"gte=0"`
	TapBuffer     int `yaml:"tapBuffer" validate:"gt=0"`

	SMTP SMTP `yaml:"smtp"`

	// Location is TimeZone resolved by Load.
	Location *time.Location `yaml:"-" validate:"-"`
}

// SMTP enables e-mail alerts when Smarthost is set.
type SMTP struct {
	Smarthost string   `yaml:"smarthost" validate:"omitempty,hostname_port"`
	From      string   `yaml:"from" validate:"required_with=Smarthost"`
	To        []string `yaml:"to" validate:"required_with=Smarthost"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
}

func (c Config) DedupWindow() time.Duration       { return ms(c.DedupWindowMs) }
func (c Config) DedupRetention() time.Duration    { return ms(c.DedupRetentionMs) }
func (c Config) CleanupInterval() time.Duration   { return ms(c.CleanupIntervalMs) }
func (c Config) HamsterInactivity() time.Duration { return ms(c.HamsterInactivityMs) }
func (c Config) SensorInactivity() time.Duration  { return ms(c.SensorInactivityMs) }
func (c Config) MonitorInterval() time.Duration   { return ms(c.MonitorIntervalMs) }
func (c Config) RoundDuration() time.Duration     { return ms(c.RoundDurationMs) }

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Addr:                ":8080",
		Workers:             4,
		DedupWindowMs:       250,
		DedupRetentionMs:    10 * 60 * 1000,
		CleanupIntervalMs:   60 * 1000,
		HamsterInactivityMs: 5 * 60 * 1000,
		SensorInactivityMs:  60 * 1000,
		MonitorIntervalMs:   60 * 1000,
		RoundDurationMs:     5000,
		ActiveThreshold:     10,
		ExportDaysBack:      1,
		ExportCron:          "5 0 * * *",
		TimeZone:            "UTC",
		TapBuffer:           256,
	}
}

// Load builds the configuration. path names an optional YAML file; when empty,
// TRACKER_CONFIG is consulted.
// API_KEYS format: "client1:key1,client2:key2"
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("TRACKER_CONFIG"))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, xerrors.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, xerrors.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	apiKeys, err := parseAPIKeys(os.Getenv("API_KEYS"))
	if err != nil {
		return Config{}, err
	}
	// Local dev fallback so the service runs out-of-the-box.
	if len(apiKeys) == 0 {
		apiKeys["tracker-key-123"] = "local"
	}
	cfg.APIKeys = apiKeys

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, xerrors.Errorf("invalid config: %w", err)
	}

	cfg.Location, err = time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return Config{}, xerrors.Errorf("time zone %q: %w", cfg.TimeZone, err)
	}
	if _, err := cron.ParseStandard(cfg.ExportCron); err != nil {
		return Config{}, xerrors.Errorf("export cron %q: %w", cfg.ExportCron, err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envString("ADDR", &cfg.Addr)
	envString("DB_URL", &cfg.DBURL)
	envString("EXPORT_CRON", &cfg.ExportCron)
	envString("TIME_ZONE", &cfg.TimeZone)
	envString("SMTP_SMARTHOST", &cfg.SMTP.Smarthost)
	envString("SMTP_FROM", &cfg.SMTP.From)
	envString("SMTP_USERNAME", &cfg.SMTP.Username)
	envString("SMTP_PASSWORD", &cfg.SMTP.Password)
	if v := strings.TrimSpace(os.Getenv("SMTP_TO")); v != "" {
		cfg.SMTP.To = nil
		for _, to := range strings.Split(v, ",") {
			if to = strings.TrimSpace(to); to != "" {
				cfg.SMTP.To = append(cfg.SMTP.To, to)
			}
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"WORKERS", &cfg.Workers},
		{"EXPORT_DAYS_BACK", &cfg.ExportDaysBack},
		{"INGRESS_BUFFER", &cfg.IngressBuffer},
		{"TAP_BUFFER", &cfg.TapBuffer},
	}
	for _, e := range ints {
		if err := envInt(e.name, e.dst); err != nil {
			return err
		}
	}

	int64s := []struct {
		name string
		dst  *int64
	}{
		{"DEDUP_WINDOW_MS", &cfg.DedupWindowMs},
		{"DEDUP_RETENTION_MS", &cfg.DedupRetentionMs},
		{"CLEANUP_INTERVAL_MS", &cfg.CleanupIntervalMs},
		{"HAMSTER_INACTIVITY_MS", &cfg.HamsterInactivityMs},
		{"SENSOR_INACTIVITY_MS", &cfg.SensorInactivityMs},
		{"MONITOR_INTERVAL_MS", &cfg.MonitorIntervalMs},
		{"ROUND_DURATION_MS", &cfg.RoundDurationMs},
		{"ACTIVE_THRESHOLD", &cfg.ActiveThreshold},
	}
	for _, e := range int64s {
		if err := envInt64(e.name, e.dst); err != nil {
			return err
		}
	}
	return nil
}

func envString(name string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return xerrors.Errorf("%s must be an integer: %w", name, err)
	}
	*dst = n
	return nil
}

func envInt64(name string, dst *int64) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return xerrors.Errorf("%s must be an integer: %w", name, err)
	}
	*dst = n
	return nil
}

func parseAPIKeys(raw string) (map[string]string, error) {
	apiKeys := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apiKeys, nil
	}

	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, xerrors.New(`API_KEYS must be "client:key,client:key"`)
		}
		client := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if client == "" || key == "" {
			return nil, xerrors.New(`API_KEYS must be "client:key,client:key"`)
		}
		apiKeys[key] = client
	}
	return apiKeys, nil
}
