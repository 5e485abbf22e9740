// Package config loads runtime settings from flags, the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/micro-ha/ble-radar/internal/planner"
	"github.com/micro-ha/ble-radar/internal/radio"
)

// EnvPrefix prefixes every environment key, BLE_RADAR_HTTP_ADDR and so on.
const EnvPrefix = "BLE_RADAR"

// Keys understood by Load.
const (
	KeyHTTPAddr              = "http_addr"
	KeyDBPath                = "db_path"
	KeyLogLevel              = "log_level"
	KeyRadio                 = "radio"
	KeyScanInterval          = "scan_interval"
	KeyScanDuration          = "scan_duration"
	KeyPowerMode             = "power_mode"
	KeyDeepAnalysis          = "deep_analysis"
	KeyPlannerParallelism    = "planner_parallelism"
	KeyPlannerMinParallelism = "planner_min_parallelism"
	KeyPlannerMaxParallelism = "planner_max_parallelism"
	KeyPlannerDeviceTimeout  = "planner_device_timeout"
	KeyPlannerTotalTimeout   = "planner_total_timeout"
	KeyPlannerCheckInterval  = "planner_check_interval"
	KeyPlannerCooldown       = "planner_cooldown"
	KeyPlannerReportInterval = "planner_report_interval"
	KeyRadarWorkers          = "radar_workers"
	KeyKnownDevicePeriod     = "known_device_period"
	KeyLocationLat           = "location_lat"
	KeyLocationLng           = "location_lng"
)

// Radio backends.
const (
	RadioBlueZ = "bluez"
	RadioNone  = "none"
)

// Location is a fixed position used when no live source exists.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Config stores runtime settings.
type Config struct {
	HTTPAddr          string
	DBPath            string
	LogLevel          slog.Level
	Radio             string
	ScanInterval      time.Duration
	ScanDuration      time.Duration
	PowerMode         radio.PowerMode
	DeepAnalysis      bool
	Planner           planner.Config
	RadarWorkers      int
	KnownDevicePeriod time.Duration
	Location          *Location
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	def := planner.DefaultConfig()
	v.SetDefault(KeyHTTPAddr, ":8099")
	v.SetDefault(KeyDBPath, "/data/ble-radar.db")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyRadio, RadioBlueZ)
	v.SetDefault(KeyScanInterval, "30s")
	v.SetDefault(KeyScanDuration, "10s")
	v.SetDefault(KeyPowerMode, string(radio.PowerModeUnrestricted))
	v.SetDefault(KeyDeepAnalysis, true)
	v.SetDefault(KeyPlannerParallelism, def.Parallelism)
	v.SetDefault(KeyPlannerMinParallelism, def.MinParallelism)
	v.SetDefault(KeyPlannerMaxParallelism, def.MaxParallelism)
	v.SetDefault(KeyPlannerDeviceTimeout, def.DeviceTimeout.String())
	v.SetDefault(KeyPlannerTotalTimeout, def.TotalTimeout.String())
	v.SetDefault(KeyPlannerCheckInterval, def.CheckInterval.String())
	v.SetDefault(KeyPlannerCooldown, def.Cooldown.String())
	v.SetDefault(KeyPlannerReportInterval, def.ReportInterval.String())
	v.SetDefault(KeyRadarWorkers, runtime.GOMAXPROCS(0))
	v.SetDefault(KeyKnownDevicePeriod, "1h")
	v.SetDefault(KeyLocationLat, "")
	v.SetDefault(KeyLocationLng, "")
	return v
}

// LoadDotEnv loads variables from path into the process environment. A
// missing file is not an error and existing variables win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds Config from v and validates every key.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddr:     strings.TrimSpace(v.GetString(KeyHTTPAddr)),
		DBPath:       strings.TrimSpace(v.GetString(KeyDBPath)),
		DeepAnalysis: v.GetBool(KeyDeepAnalysis),
		RadarWorkers: v.GetInt(KeyRadarWorkers),
	}
	if cfg.HTTPAddr == "" {
		return Config{}, keyError(KeyHTTPAddr, "must not be empty")
	}
	if cfg.DBPath == "" {
		return Config{}, keyError(KeyDBPath, "must not be empty")
	}

	level, err := parseLogLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	cfg.Radio = strings.ToLower(strings.TrimSpace(v.GetString(KeyRadio)))
	if cfg.Radio != RadioBlueZ && cfg.Radio != RadioNone {
		return Config{}, keyError(KeyRadio, "must be bluez or none")
	}
	mode, ok := radio.ParsePowerMode(strings.ToLower(strings.TrimSpace(v.GetString(KeyPowerMode))))
	if !ok {
		return Config{}, keyError(KeyPowerMode, "must be unrestricted or background")
	}
	cfg.PowerMode = mode

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{KeyScanInterval, &cfg.ScanInterval},
		{KeyScanDuration, &cfg.ScanDuration},
		{KeyPlannerDeviceTimeout, &cfg.Planner.DeviceTimeout},
		{KeyPlannerTotalTimeout, &cfg.Planner.TotalTimeout},
		{KeyPlannerCheckInterval, &cfg.Planner.CheckInterval},
		{KeyPlannerCooldown, &cfg.Planner.Cooldown},
		{KeyPlannerReportInterval, &cfg.Planner.ReportInterval},
		{KeyKnownDevicePeriod, &cfg.KnownDevicePeriod},
	}
	for _, d := range durations {
		value, err := parseDuration(v, d.key)
		if err != nil {
			return Config{}, err
		}
		*d.dst = value
	}
	if cfg.ScanDuration > cfg.ScanInterval {
		return Config{}, keyError(KeyScanDuration, "must not exceed scan_interval")
	}

	def := planner.DefaultConfig()
	cfg.Planner.Parallelism = v.GetInt(KeyPlannerParallelism)
	cfg.Planner.MinParallelism = v.GetInt(KeyPlannerMinParallelism)
	cfg.Planner.MaxParallelism = v.GetInt(KeyPlannerMaxParallelism)
	cfg.Planner.MinEligibleForBackoff = def.MinEligibleForBackoff
	cfg.Planner.ErrorRateThreshold = def.ErrorRateThreshold
	if cfg.Planner.MinParallelism <= 0 {
		return Config{}, keyError(KeyPlannerMinParallelism, "must be positive")
	}
	if cfg.Planner.MaxParallelism < cfg.Planner.MinParallelism {
		return Config{}, keyError(KeyPlannerMaxParallelism, "must not be below planner_min_parallelism")
	}
	if cfg.Planner.Parallelism < cfg.Planner.MinParallelism || cfg.Planner.Parallelism > cfg.Planner.MaxParallelism {
		return Config{}, keyError(KeyPlannerParallelism, "must be within the min and max parallelism")
	}
	if cfg.RadarWorkers <= 0 {
		return Config{}, keyError(KeyRadarWorkers, "must be positive")
	}

	location, err := parseLocation(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Location = location
	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, keyError(key, fmt.Sprintf("invalid duration %q", raw))
	}
	if value <= 0 {
		return 0, keyError(key, "must be positive")
	}
	return value, nil
}

func parseLocation(v *viper.Viper) (*Location, error) {
	rawLat := strings.TrimSpace(v.GetString(KeyLocationLat))
	rawLng := strings.TrimSpace(v.GetString(KeyLocationLng))
	if rawLat == "" && rawLng == "" {
		return nil, nil
	}
	if rawLat == "" || rawLng == "" {
		return nil, keyError(KeyLocationLat, "location_lat and location_lng must be set together")
	}
	lat := v.GetFloat64(KeyLocationLat)
	lng := v.GetFloat64(KeyLocationLng)
	if lat < -90 || lat > 90 {
		return nil, keyError(KeyLocationLat, "must be within [-90, 90]")
	}
	if lng < -180 || lng > 180 {
		return nil, keyError(KeyLocationLng, "must be within [-180, 180]")
	}
	return &Location{Latitude: lat, Longitude: lng}, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, keyError(KeyLogLevel, fmt.Sprintf("unknown level %q", raw))
	}
}

func keyError(key, msg string) error {
	return fmt.Errorf("config %s_%s: %s", EnvPrefix, strings.ToUpper(key), msg)
}
