// Package config loads the simulator configuration from a YAML file and
// LEOSIM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/leo-router/core"
	"github.com/signalsfoundry/leo-router/internal/logging"
	"github.com/signalsfoundry/leo-router/internal/observability"
	"github.com/signalsfoundry/leo-router/internal/routing"
	"github.com/signalsfoundry/leo-router/orbit"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix is prepended to every environment override, with dots in the
// key replaced by underscores (LEOSIM_ROUTING_K).
const EnvPrefix = "LEOSIM"

// DefaultStartUnix is the default simulation start, 2021-04-22 19:19:49 UTC.
const DefaultStartUnix = 1619119189

type Config struct {
	Constellation ConstellationConfig `mapstructure:"constellation"`
	Ground        GroundConfig        `mapstructure:"ground"`
	Routing       RoutingConfig       `mapstructure:"routing"`
	Simulation    SimulationConfig    `mapstructure:"simulation"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Recorder      RecorderConfig      `mapstructure:"recorder"`
	Server        ServerConfig        `mapstructure:"server"`
}

// ConstellationConfig is the plane/slot grid and its shared orbit.
type ConstellationConfig struct {
	Planes         int     `mapstructure:"planes"`
	SatsPerPlane   int     `mapstructure:"sats_per_plane"`
	AltitudeKm     float64 `mapstructure:"altitude_km"`
	InclinationDeg float64 `mapstructure:"inclination_deg"`
	Eccentricity   float64 `mapstructure:"eccentricity"`
	ArgPerigeeDeg  float64 `mapstructure:"arg_perigee_deg"`
	BStar          float64 `mapstructure:"bstar"`
	Drag           float64 `mapstructure:"drag"`
	EpochYear      int     `mapstructure:"epoch_year"`
	EpochDay       float64 `mapstructure:"epoch_day"`

	EnableISL      bool `mapstructure:"enable_isl"`
	InterPlaneWrap bool `mapstructure:"inter_plane_wrap"`
}

// GroundConfig points at the station table and bounds ground visibility.
type GroundConfig struct {
	StationFile     string  `mapstructure:"station_file"`
	MinElevationDeg float64 `mapstructure:"min_elevation_deg"`
	MaxRangeKm      float64 `mapstructure:"max_range_km"`
	DataRateBps     float64 `mapstructure:"data_rate_bps"`
}

type RoutingConfig struct {
	K      int    `mapstructure:"k"`
	Metric string `mapstructure:"metric"`

	// UpdateInterval is the mobility update interval; the routing timer
	// fires one nanosecond after it unless IntervalOverride is set.
	UpdateInterval   time.Duration `mapstructure:"update_interval"`
	IntervalOverride time.Duration `mapstructure:"interval_override"`
	Workers          int           `mapstructure:"workers"`

	CacheDir    string `mapstructure:"cache_dir"`
	CacheMode   string `mapstructure:"cache_mode"`
	CacheOnMiss string `mapstructure:"cache_on_miss"`
}

type SimulationConfig struct {
	StartUnix   int64         `mapstructure:"start_unix"`
	Duration    time.Duration `mapstructure:"duration"`
	Accelerated bool          `mapstructure:"accelerated"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Backend string `mapstructure:"backend"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// RecorderConfig enables the per-tick topology sinks. Empty values
// disable the corresponding sink.
type RecorderConfig struct {
	ParquetPath    string `mapstructure:"parquet_path"`
	QuestDBAddress string `mapstructure:"questdb_address"`
}

type ServerConfig struct {
	GRPCAddr    string `mapstructure:"grpc_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads path (YAML, optional when empty), applies LEOSIM_* overrides
// on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithDefaults(path, nil)
}

// LoadWithDefaults is Load with some defaults replaced, keyed by their
// dotted config path. The file and the environment still win over them.
func LoadWithDefaults(path string, defaults map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults only hold plain values, so decoding cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("constellation.planes", 72)
	v.SetDefault("constellation.sats_per_plane", 22)
	v.SetDefault("constellation.altitude_km", 550.0)
	v.SetDefault("constellation.inclination_deg", 53.0)
	v.SetDefault("constellation.eccentricity", 0.0001)
	v.SetDefault("constellation.arg_perigee_deg", 0.0)
	v.SetDefault("constellation.bstar", 0.0)
	v.SetDefault("constellation.drag", 0.0)
	v.SetDefault("constellation.epoch_year", 21)
	v.SetDefault("constellation.epoch_day", 112.5)
	v.SetDefault("constellation.enable_isl", true)
	v.SetDefault("constellation.inter_plane_wrap", false)

	v.SetDefault("ground.station_file", "")
	v.SetDefault("ground.min_elevation_deg", core.DefaultMinElevationDeg)
	v.SetDefault("ground.max_range_km", core.DefaultMaxGroundRangeM/1000)
	v.SetDefault("ground.data_rate_bps", core.DefaultDataRateBps)

	v.SetDefault("routing.k", 1)
	v.SetDefault("routing.metric", string(core.MetricDelay))
	v.SetDefault("routing.update_interval", time.Second)
	v.SetDefault("routing.interval_override", time.Duration(0))
	v.SetDefault("routing.workers", 1)
	v.SetDefault("routing.cache_dir", "route-cache")
	v.SetDefault("routing.cache_mode", routing.CacheOff.String())
	v.SetDefault("routing.cache_on_miss", "recompute")

	v.SetDefault("simulation.start_unix", DefaultStartUnix)
	v.SetDefault("simulation.duration", time.Minute)
	v.SetDefault("simulation.accelerated", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.backend", "slog")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "leo-router")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("recorder.parquet_path", "")
	v.SetDefault("recorder.questdb_address", "")

	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.metrics_addr", ":9090")
}

// Validate checks every field a component would otherwise reject at
// wiring time.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	cc := c.Constellation
	check(cc.Planes > 0, "constellation.planes must be positive, got %d", cc.Planes)
	check(cc.SatsPerPlane > 0, "constellation.sats_per_plane must be positive, got %d", cc.SatsPerPlane)
	check(cc.AltitudeKm > 0, "constellation.altitude_km must be positive, got %v", cc.AltitudeKm)
	check(cc.Eccentricity >= 0 && cc.Eccentricity < 1, "constellation.eccentricity must be in [0,1), got %v", cc.Eccentricity)
	check(cc.InclinationDeg >= 0 && cc.InclinationDeg <= 180, "constellation.inclination_deg must be in [0,180], got %v", cc.InclinationDeg)
	check(cc.EpochDay >= 1 && cc.EpochDay < 367, "constellation.epoch_day must be in [1,367), got %v", cc.EpochDay)

	g := c.Ground
	check(g.MinElevationDeg >= -90 && g.MinElevationDeg <= 90, "ground.min_elevation_deg must be in [-90,90], got %v", g.MinElevationDeg)
	check(g.MaxRangeKm > 0, "ground.max_range_km must be positive, got %v", g.MaxRangeKm)
	check(g.DataRateBps > 0, "ground.data_rate_bps must be positive, got %v", g.DataRateBps)

	r := c.Routing
	check(r.K >= 1, "routing.k must be at least 1, got %d", r.K)
	check(r.UpdateInterval > 0, "routing.update_interval must be positive, got %s", r.UpdateInterval)
	check(r.IntervalOverride >= 0, "routing.interval_override must not be negative, got %s", r.IntervalOverride)
	check(r.Workers >= 1, "routing.workers must be at least 1, got %d", r.Workers)
	if _, err := core.ParseLinkMetric(r.Metric); err != nil {
		errs = append(errs, fmt.Errorf("routing.metric: %w", err))
	}
	mode, err := routing.ParseCacheMode(r.CacheMode)
	if err != nil {
		errs = append(errs, fmt.Errorf("routing.cache_mode: %w", err))
	}
	if _, err := routing.ParseMissPolicy(r.CacheOnMiss); err != nil {
		errs = append(errs, fmt.Errorf("routing.cache_on_miss: %w", err))
	}
	check(mode == routing.CacheOff || r.CacheDir != "", "routing.cache_dir is required when caching is enabled")

	check(c.Simulation.Duration >= 0, "simulation.duration must not be negative, got %s", c.Simulation.Duration)
	ratio := c.Tracing.SampleRatio
	check(ratio >= 0 && ratio <= 1 && !math.IsNaN(ratio), "tracing.sample_ratio must be in [0,1], got %v", ratio)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Orbit returns the propagator view of the constellation section.
func (c *Config) Orbit() orbit.ConstellationConfig {
	cc := c.Constellation
	return orbit.ConstellationConfig{
		Planes:         cc.Planes,
		SatsPerPlane:   cc.SatsPerPlane,
		AltitudeKm:     cc.AltitudeKm,
		InclinationDeg: cc.InclinationDeg,
		Eccentricity:   cc.Eccentricity,
		ArgPerigeeDeg:  cc.ArgPerigeeDeg,
		BStar:          cc.BStar,
		Drag:           cc.Drag,
		EpochYear:      cc.EpochYear,
		EpochDay:       cc.EpochDay,
	}
}

// Topology returns the link builder options. The metric was checked by
// Validate.
func (c *Config) Topology() core.TopologyOptions {
	metric, _ := core.ParseLinkMetric(c.Routing.Metric)
	return core.TopologyOptions{
		Planes:          c.Constellation.Planes,
		SatsPerPlane:    c.Constellation.SatsPerPlane,
		EnableISL:       c.Constellation.EnableISL,
		InterPlaneWrap:  c.Constellation.InterPlaneWrap,
		MinElevationDeg: c.Ground.MinElevationDeg,
		MaxGroundRangeM: c.Ground.MaxRangeKm * 1000,
		Metric:          metric,
	}
}

// Start is the simulation start instant in UTC.
func (c *Config) Start() time.Time {
	return time.Unix(c.Simulation.StartUnix, 0).UTC()
}

// Cache builds the route cache described by the routing section, or nil
// when caching is off.
func (c *Config) Cache() *routing.RouteCache {
	mode, _ := routing.ParseCacheMode(c.Routing.CacheMode)
	if mode == routing.CacheOff {
		return nil
	}
	onMiss, _ := routing.ParseMissPolicy(c.Routing.CacheOnMiss)
	return &routing.RouteCache{Root: c.Routing.CacheDir, Mode: mode, OnMiss: onMiss}
}

// CacheKey identifies this constellation's directory in the route cache.
func (c *Config) CacheKey(groundStations int) routing.CacheKey {
	return routing.CacheKey{
		AltitudeKm:     c.Constellation.AltitudeKm,
		Planes:         c.Constellation.Planes,
		SatsPerPlane:   c.Constellation.SatsPerPlane,
		InclinationDeg: c.Constellation.InclinationDeg,
		GroundStations: groundStations,
		ISLEnabled:     c.Constellation.EnableISL,
	}
}

func (c LoggingConfig) Logging() logging.Config {
	return logging.Config{Level: c.Level, Format: c.Format, Backend: c.Backend}
}

func (c TracingConfig) Observability() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Enabled,
		ServiceName: c.ServiceName,
		Exporter:    strings.ToLower(c.Exporter),
		Endpoint:    c.Endpoint,
		SampleRatio: c.SampleRatio,
	}
}
