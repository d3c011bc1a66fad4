package config

/*
YAML settings file for the tracker. The tracking knobs may additionally be
overridden through TRACKING_* environment variables, which take precedence
over the file.
*/

import (
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"gopkg.in/yaml.v2"

	"github.com/towfleet/tracking/cli/tracker/domain"
)

type Tracking struct {
	TimestampThresholdMS int64         `yaml:"timestamp_threshold_ms"`
	Persist              *bool         `yaml:"persist"`
	GeofenceEnabled      bool          `yaml:"geofence_enabled"`
	GeofenceRegions      []domain.Rect `yaml:"geofence_regions"`
	SpeedAlert           bool          `yaml:"speed_alert"`
	MaxSpeed             float64       `yaml:"max_speed"`
	BatchSize            int           `yaml:"batch_size"`
	BatchIntervalMS      int64         `yaml:"batch_interval_ms"`
	DataRetentionDays    int           `yaml:"data_retention_days"`
	CacheWriteProb       float64       `yaml:"cache_write_prob"`
	BusSampleProb        float64       `yaml:"bus_sample_prob"`
}

type Settings struct {
	Host          string `yaml:"host"`
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"log_level"`
	LogFilePath   string `yaml:"log_file_path"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`

	// Store sections select the SQL backend ("postgresql" or "mysql") and
	// the optional "redis" cache tier.
	Store map[string]map[string]string `yaml:"storage"`

	// Bus holds at most one section naming the cross-instance bus backend:
	// "nats", "rabbitmq", "tarantool_queue" or "memory".
	Bus map[string]map[string]string `yaml:"bus"`

	Tracking Tracking `yaml:"tracking"`
}

func (s *Settings) GetListenAddress() string {
	return s.Host + ":" + s.Port
}

func (s *Settings) GetLogLevel() log.Level {
	var lvl log.Level

	switch s.LogLevel {
	case "DEBUG":
		lvl = log.DebugLevel
	case "INFO":
		lvl = log.InfoLevel
	case "WARN":
		lvl = log.WarnLevel
	case "ERROR":
		lvl = log.ErrorLevel
	default:
		lvl = log.InfoLevel
	}
	return lvl
}

func (s *Settings) GetTimestampThreshold() time.Duration {
	return time.Duration(s.Tracking.TimestampThresholdMS) * time.Millisecond
}

func (s *Settings) GetBatchInterval() time.Duration {
	return time.Duration(s.Tracking.BatchIntervalMS) * time.Millisecond
}

func (s *Settings) GetPersistEnabled() bool {
	return s.Tracking.Persist == nil || *s.Tracking.Persist
}

// GetGeofenceRegions falls back to the default operating area when
// geofencing is on but no regions were configured.
func (s *Settings) GetGeofenceRegions() domain.RectSet {
	if len(s.Tracking.GeofenceRegions) > 0 {
		return domain.RectSet(s.Tracking.GeofenceRegions)
	}
	return domain.RectSet{{MinLat: 37.7, MaxLat: 37.8, MinLng: -122.5, MaxLng: -122.4}}
}

func New(confPath string) (Settings, error) {
	c := Settings{}
	data, err := os.ReadFile(confPath)
	if err != nil {
		return c, err
	}
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return c, err
	}

	c.applyEnvironment()
	c.applyDefaults()

	return c, nil
}

func (c *Settings) applyDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	t := &c.Tracking
	if t.TimestampThresholdMS <= 0 {
		t.TimestampThresholdMS = 60000
	}
	if t.MaxSpeed <= 0 {
		t.MaxSpeed = 120
	}
	if t.BatchSize <= 0 {
		t.BatchSize = 50
	}
	if t.BatchIntervalMS <= 0 {
		t.BatchIntervalMS = 30000
	}
	if t.DataRetentionDays <= 0 {
		t.DataRetentionDays = 30
	}
	if t.CacheWriteProb <= 0 || t.CacheWriteProb > 1 {
		t.CacheWriteProb = 0.1
	}
	if t.BusSampleProb <= 0 || t.BusSampleProb > 1 {
		t.BusSampleProb = 0.2
	}
}

func (c *Settings) applyEnvironment() {
	t := &c.Tracking
	if v, ok := envInt64("TRACKING_TIMESTAMP_THRESHOLD"); ok {
		t.TimestampThresholdMS = v
	}
	if v, ok := envBool("TRACKING_PERSIST_TO_DB"); ok {
		t.Persist = &v
	}
	if v, ok := envBool("TRACKING_GEOFENCE_ENABLED"); ok {
		t.GeofenceEnabled = v
	}
	if v, ok := envBool("TRACKING_ALERT_SPEED"); ok {
		t.SpeedAlert = v
	}
	if v, ok := envFloat("TRACKING_MAX_SPEED"); ok {
		t.MaxSpeed = v
	}
	if v, ok := envInt64("TRACKING_BATCH_SIZE"); ok {
		t.BatchSize = int(v)
	}
	if v, ok := envInt64("TRACKING_BATCH_INTERVAL"); ok {
		t.BatchIntervalMS = v
	}
	if v, ok := envInt64("TRACKING_DATA_RETENTION_DAYS"); ok {
		t.DataRetentionDays = int(v)
	}
}

func envInt64(name string) (int64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warnf("Ignoring invalid %s=%q: %v", name, raw, err)
		return 0, false
	}
	return v, true
}

func envFloat(name string) (float64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Warnf("Ignoring invalid %s=%q: %v", name, raw, err)
		return 0, false
	}
	return v, true
}

func envBool(name string) (bool, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warnf("Ignoring invalid %s=%q: %v", name, raw, err)
		return false, false
	}
	return v, true
}
