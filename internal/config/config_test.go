package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/leo-router/core"
	"github.com/signalsfoundry/leo-router/internal/routing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leosim.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Constellation.Planes != 72 || cfg.Constellation.SatsPerPlane != 22 {
		t.Fatalf("grid = %dx%d, want 72x22", cfg.Constellation.Planes, cfg.Constellation.SatsPerPlane)
	}
	if cfg.Routing.K != 1 || cfg.Routing.UpdateInterval != time.Second {
		t.Fatalf("routing defaults = %+v", cfg.Routing)
	}
	if got := cfg.Start(); got != time.Date(2021, 4, 22, 19, 19, 49, 0, time.UTC) {
		t.Fatalf("Start() = %s", got)
	}
	if cfg.Cache() != nil {
		t.Fatalf("cache should be off by default")
	}
	if opts := cfg.Topology(); opts.Metric != core.MetricDelay || opts.MaxGroundRangeM != core.DefaultMaxGroundRangeM {
		t.Fatalf("topology options = %+v", opts)
	}
	if *Default() != *cfg {
		t.Fatalf("Default() differs from Load(\"\")")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
constellation:
  planes: 2
  sats_per_plane: 4
  inter_plane_wrap: true
routing:
  k: 3
  metric: hopCount
  update_interval: 100ms
  cache_mode: load-or-save
  cache_on_miss: fail
ground:
  station_file: stations.yaml
`)
	t.Setenv("LEOSIM_ROUTING_K", "2")
	t.Setenv("LEOSIM_ROUTING_WORKERS", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.K != 2 {
		t.Fatalf("env override ignored: k = %d", cfg.Routing.K)
	}
	if cfg.Routing.Workers != 4 {
		t.Fatalf("workers = %d, want 4", cfg.Routing.Workers)
	}
	if cfg.Routing.UpdateInterval != 100*time.Millisecond {
		t.Fatalf("update interval = %s", cfg.Routing.UpdateInterval)
	}
	if !cfg.Constellation.InterPlaneWrap || cfg.Constellation.AltitudeKm != 550 {
		t.Fatalf("constellation = %+v", cfg.Constellation)
	}
	if cfg.Ground.StationFile != "stations.yaml" {
		t.Fatalf("station file = %q", cfg.Ground.StationFile)
	}

	cache := cfg.Cache()
	if cache == nil || cache.Mode != routing.CacheLoadOrSave || cache.OnMiss != routing.MissFail {
		t.Fatalf("cache = %+v", cache)
	}
	key := cfg.CacheKey(3)
	if key.Dir() != "alt550_p2_s4_inc53_gs3_isl1" {
		t.Fatalf("cache key dir = %q", key.Dir())
	}
	if cfg.Topology().Metric != core.MetricHopCount {
		t.Fatalf("metric = %q", cfg.Topology().Metric)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"planes":       func(c *Config) { c.Constellation.Planes = 0 },
		"eccentricity": func(c *Config) { c.Constellation.Eccentricity = 1 },
		"k":            func(c *Config) { c.Routing.K = 0 },
		"metric":       func(c *Config) { c.Routing.Metric = "errorRate" },
		"cache mode":   func(c *Config) { c.Routing.CacheMode = "sometimes" },
		"cache dir": func(c *Config) {
			c.Routing.CacheMode = "save"
			c.Routing.CacheDir = ""
		},
		"interval":  func(c *Config) { c.Routing.UpdateInterval = 0 },
		"elevation": func(c *Config) { c.Ground.MinElevationDeg = 95 },
		"ratio":     func(c *Config) { c.Tracing.SampleRatio = 2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadInvalidFromEnv(t *testing.T) {
	t.Setenv("LEOSIM_ROUTING_METRIC", "errorRate")
	_, err := Load("")
	if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, core.ErrUnknownMetric) {
		t.Fatalf("Load() = %v, want ErrInvalidConfig wrapping ErrUnknownMetric", err)
	}
}
