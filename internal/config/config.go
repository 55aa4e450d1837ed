package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable pointing at an optional YAML file.
// Precedence is defaults, then the file, then individual environment variables.
const FileEnv = "PARKSWAP_CONFIG"

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	RedisAddr         string `yaml:"redis_addr"`
	RedisPassword     string `yaml:"redis_password"`
	RedisGeoKey       string `yaml:"redis_geo_key"`
	RedisStampKey     string `yaml:"redis_stamp_key"`
	RedisHiddenPrefix string `yaml:"redis_hidden_prefix"`

	KafkaBrokers       []string `yaml:"kafka_brokers"`
	KafkaLocationTopic string   `yaml:"kafka_location_topic"`
	KafkaSignalTopic   string   `yaml:"kafka_signal_topic"`

	PGDSN         string `yaml:"pg_dsn"`
	RunMigrations bool   `yaml:"run_migrations"`
	MigrationsDir string `yaml:"migrations_dir"`

	WatchdogInterval  time.Duration `yaml:"watchdog_interval"`
	GeofenceInterval  time.Duration `yaml:"geofence_interval"`
	GeofenceRadius    float64       `yaml:"geofence_radius_m"`
	SellerDriftRadius float64       `yaml:"seller_drift_radius_m"`
	LeaveWatch        time.Duration `yaml:"leave_watch"`

	SellerShare        float64       `yaml:"seller_share"`
	PenaltySellerShare float64       `yaml:"penalty_seller_share"`
	RefundShare        float64       `yaml:"refund_share"`
	BanDuration        time.Duration `yaml:"ban_duration"`
	NavigateAfter      time.Duration `yaml:"navigate_after"`

	DefaultSpeedMps float64       `yaml:"default_speed_mps"`
	OSRMEndpoint    string        `yaml:"osrm_endpoint"`
	ETACacheTTL     time.Duration `yaml:"eta_cache_ttl"`

	PushEndpoint string `yaml:"push_endpoint"`
	PushKey      string `yaml:"push_key"`

	DemoMode         bool          `yaml:"demo_mode"`
	DemoRequestDelay time.Duration `yaml:"demo_request_delay"`

	LogLevel string `yaml:"log_level"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "positions",
		RedisStampKey:      "finalized_at",
		RedisHiddenPrefix:  "hidden:",
		KafkaLocationTopic: "user-locations",
		MigrationsDir:      "migrations",
		WatchdogInterval:   time.Second,
		GeofenceInterval:   time.Second,
		GeofenceRadius:     5,
		SellerDriftRadius:  5,
		LeaveWatch:         time.Minute,
		SellerShare:        0.67,
		PenaltySellerShare: 0.34,
		RefundShare:        0.67,
		BanDuration:        24 * time.Hour,
		NavigateAfter:      3 * time.Second,
		DefaultSpeedMps:    8,
		ETACacheTTL:        time.Minute,
		DemoRequestDelay:   30 * time.Second,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v, ok := os.LookupEnv("REDIS_PASSWORD"); ok {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.RedisStampKey, "REDIS_STAMP_KEY")
	setStringFromEnv(&cfg.RedisHiddenPrefix, "REDIS_HIDDEN_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaSignalTopic, "KAFKA_SIGNAL_TOPIC")

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE", &errs)
	setStringFromEnv(&cfg.MigrationsDir, "MIGRATIONS_DIR")

	setDurationFromEnv(&cfg.WatchdogInterval, "WATCHDOG_INTERVAL", &errs)
	setDurationFromEnv(&cfg.GeofenceInterval, "GEOFENCE_INTERVAL", &errs)
	setFloatFromEnv(&cfg.GeofenceRadius, "GEOFENCE_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.SellerDriftRadius, "SELLER_DRIFT_RADIUS_M", &errs)
	setDurationFromEnv(&cfg.LeaveWatch, "GEOFENCE_LEAVE_WATCH", &errs)

	setFloatFromEnv(&cfg.SellerShare, "SELLER_SHARE", &errs)
	setFloatFromEnv(&cfg.PenaltySellerShare, "PENALTY_SELLER_SHARE", &errs)
	setFloatFromEnv(&cfg.RefundShare, "REFUND_SHARE", &errs)
	setDurationFromEnv(&cfg.BanDuration, "BAN_DURATION", &errs)
	setDurationFromEnv(&cfg.NavigateAfter, "NAVIGATE_AFTER", &errs)

	setFloatFromEnv(&cfg.DefaultSpeedMps, "ETA_DEFAULT_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	setStringFromEnv(&cfg.PushKey, "PUSH_KEY")

	setBoolFromEnv(&cfg.DemoMode, "DEMO_MODE", &errs)
	setDurationFromEnv(&cfg.DemoRequestDelay, "DEMO_REQUEST_DELAY", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"watchdog_interval": c.WatchdogInterval,
		"geofence_interval": c.GeofenceInterval,
		"ban_duration":      c.BanDuration,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}
	if c.GeofenceRadius <= 0 {
		errs = append(errs, fmt.Errorf("geofence_radius_m must be > 0"))
	}
	if c.SellerDriftRadius <= 0 {
		errs = append(errs, fmt.Errorf("seller_drift_radius_m must be > 0"))
	}
	for name, v := range map[string]float64{
		"seller_share":         c.SellerShare,
		"penalty_seller_share": c.PenaltySellerShare,
		"refund_share":         c.RefundShare,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1]", name))
		}
	}
	return errs
}

// ConsumerConfig configures cmd/consumer.
type ConsumerConfig struct {
	MetricsAddr   string   `yaml:"metrics_addr"`
	KafkaBrokers  []string `yaml:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_location_topic"`
	KafkaGroup    string   `yaml:"kafka_group"`
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisGeoKey   string   `yaml:"redis_geo_key"`
	LogLevel      string   `yaml:"log_level"`
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "user-locations",
		KafkaGroup:   "parkswap-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "positions",
		LogLevel:     "info",
	}
	var errs []error
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			errs = append(errs, err)
		}
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v, ok := os.LookupEnv("REDIS_PASSWORD"); ok {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("kafka_brokers must not be empty"))
	}
	return cfg, errors.Join(errs...)
}

// loadFile overlays the YAML document at path onto target. Keys absent from
// the file keep their current value.
func loadFile(path string, target any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, target); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
