package config

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	log "github.com/sirupsen/logrus"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file, err := ioutil.TempFile("", "tracker-config")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(file.Name()) })

	_, err = file.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	return file.Name()
}

func TestConfigLoad(t *testing.T) {
	// To prevent log output during tests
	log.SetOutput(ioutil.Discard)

	cfg := `host: "127.0.0.1"
port: "8080"
log_level: "DEBUG"

storage:
  postgresql:
    host: "localhost"
    port: "5432"
    user: "postgres"
    password: "postgres"
    database: "tracking"
    sslmode: "disable"
  redis:
    host: "localhost"
    port: "6379"

bus:
  nats:
    server: "nats://localhost:4222"

tracking:
  timestamp_threshold_ms: 90000
  geofence_enabled: true
  speed_alert: true
  max_speed: 100
  batch_size: 25
  batch_interval_ms: 10000
  data_retention_days: 14
`

	conf, err := New(writeConfig(t, cfg))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", conf.GetListenAddress())
	assert.Equal(t, log.DebugLevel, conf.GetLogLevel())
	assert.Equal(t, "localhost", conf.Store["postgresql"]["host"])
	assert.Equal(t, "6379", conf.Store["redis"]["port"])
	assert.Equal(t, "nats://localhost:4222", conf.Bus["nats"]["server"])

	assert.Equal(t, 90*time.Second, conf.GetTimestampThreshold())
	assert.True(t, conf.Tracking.GeofenceEnabled)
	assert.True(t, conf.Tracking.SpeedAlert)
	assert.Equal(t, 100.0, conf.Tracking.MaxSpeed)
	assert.Equal(t, 25, conf.Tracking.BatchSize)
	assert.Equal(t, 10*time.Second, conf.GetBatchInterval())
	assert.Equal(t, 14, conf.Tracking.DataRetentionDays)
	assert.True(t, conf.GetPersistEnabled())
}

func TestConfigDefaults(t *testing.T) {
	log.SetOutput(ioutil.Discard)

	conf, err := New(writeConfig(t, `host: "0.0.0.0"`))
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, conf.GetTimestampThreshold())
	assert.Equal(t, 120.0, conf.Tracking.MaxSpeed)
	assert.Equal(t, 50, conf.Tracking.BatchSize)
	assert.Equal(t, 30*time.Second, conf.GetBatchInterval())
	assert.Equal(t, 30, conf.Tracking.DataRetentionDays)
	assert.Equal(t, 0.1, conf.Tracking.CacheWriteProb)
	assert.Equal(t, 0.2, conf.Tracking.BusSampleProb)
	assert.True(t, conf.GetPersistEnabled())

	// Geofencing without explicit regions falls back to the default area.
	regions := conf.GetGeofenceRegions()
	assert.True(t, regions.Contains(37.75, -122.45))
}

func TestConfigPersistDisabled(t *testing.T) {
	log.SetOutput(ioutil.Discard)

	conf, err := New(writeConfig(t, "tracking:\n  persist: false\n"))
	require.NoError(t, err)
	assert.False(t, conf.GetPersistEnabled())
}

func TestConfigEnvironmentOverrides(t *testing.T) {
	log.SetOutput(ioutil.Discard)

	t.Setenv("TRACKING_TIMESTAMP_THRESHOLD", "120000")
	t.Setenv("TRACKING_PERSIST_TO_DB", "false")
	t.Setenv("TRACKING_ALERT_SPEED", "true")
	t.Setenv("TRACKING_MAX_SPEED", "90")
	t.Setenv("TRACKING_BATCH_SIZE", "10")
	t.Setenv("TRACKING_DATA_RETENTION_DAYS", "7")

	conf, err := New(writeConfig(t, "tracking:\n  batch_size: 99\n"))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, conf.GetTimestampThreshold())
	assert.False(t, conf.GetPersistEnabled())
	assert.True(t, conf.Tracking.SpeedAlert)
	assert.Equal(t, 90.0, conf.Tracking.MaxSpeed)
	assert.Equal(t, 10, conf.Tracking.BatchSize)
	assert.Equal(t, 7, conf.Tracking.DataRetentionDays)
}

func TestConfigInvalidEnvIgnored(t *testing.T) {
	log.SetOutput(ioutil.Discard)

	t.Setenv("TRACKING_BATCH_SIZE", "lots")

	conf, err := New(writeConfig(t, "tracking:\n  batch_size: 40\n"))
	require.NoError(t, err)
	assert.Equal(t, 40, conf.Tracking.BatchSize)
}
