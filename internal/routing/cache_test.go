package routing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/leo-router/model"
)

func TestCacheKeyDir(t *testing.T) {
	k := CacheKey{AltitudeKm: 550, Planes: 72, SatsPerPlane: 22, InclinationDeg: 53, GroundStations: 10, ISLEnabled: true}
	if got := k.Dir(); got != "alt550_p72_s22_inc53_gs10_isl1" {
		t.Fatalf("Dir() = %q", got)
	}
	k.InclinationDeg = 53.2
	k.ISLEnabled = false
	if got := k.Dir(); got != "alt550_p72_s22_inc53p2_gs10_isl0" {
		t.Fatalf("Dir() = %q", got)
	}
}

func TestRouteCacheRoundTrip(t *testing.T) {
	c := &RouteCache{Root: t.TempDir(), Mode: CacheLoadOrSave}
	key := CacheKey{AltitudeKm: 550, Planes: 2, SatsPerPlane: 4}
	tick := 1500 * time.Millisecond
	triples := []model.RouteTriple{{NodeID: 0, Destination: 5, NextHopInterface: 2}, {NodeID: 7, Destination: 1, NextHopInterface: -1}}

	if err := c.Save(key, tick, 1, triples); err != nil {
		t.Fatalf("Save: %v", err)
	}
	path := filepath.Join(c.Root, key.Dir(), "1500.k1.bin")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected %s: %v", path, err)
	}
	if info.Size() != int64(len(triples)*tripleSize) {
		t.Fatalf("file size = %d", info.Size())
	}

	got, err := c.Load(key, tick, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0] != triples[0] || got[1] != triples[1] {
		t.Fatalf("Load = %+v", got)
	}

	if _, err := c.Load(key, tick, 2); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("missing rank should miss, got %v", err)
	}
	if err := os.WriteFile(c.FilePath(key, tick, 3), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Load(key, tick, 3); !errors.Is(err, ErrCacheMismatch) {
		t.Fatalf("truncated file should mismatch, got %v", err)
	}
}

func TestRouteCacheFileLayout(t *testing.T) {
	c := &RouteCache{Root: t.TempDir()}
	key := CacheKey{Planes: 1, SatsPerPlane: 1}
	if err := c.Save(key, 0, 1, []model.RouteTriple{{NodeID: 1, Destination: 2, NextHopInterface: 3}}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(c.FilePath(key, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0}
	if string(data) != string(want) {
		t.Fatalf("bytes = %v, want little-endian %v", data, want)
	}
}

func TestNodeIndex(t *testing.T) {
	c := &RouteCache{Root: t.TempDir()}
	key := CacheKey{Planes: 1}
	live := map[string]model.NodeID{"sat-p0-s0": 0, "sat-p0-s1": 1, "gs-delft": 2}

	if err := c.CheckNodeIndex(key, live); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("missing index should miss, got %v", err)
	}
	if err := c.WriteNodeIndex(key, live); err != nil {
		t.Fatalf("WriteNodeIndex: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(c.Root, key.Dir(), "nodes.txt"))
	if string(data) != "sat-p0-s0 0\nsat-p0-s1 1\ngs-delft 2\n" {
		t.Fatalf("nodes.txt = %q", data)
	}
	if err := c.CheckNodeIndex(key, live); err != nil {
		t.Fatalf("CheckNodeIndex: %v", err)
	}

	changed := map[string]model.NodeID{"sat-p0-s0": 0, "sat-p0-s1": 2, "gs-delft": 1}
	if err := c.CheckNodeIndex(key, changed); !errors.Is(err, ErrCacheMismatch) {
		t.Fatalf("reordered nodes should mismatch, got %v", err)
	}
}

func TestTripleConversion(t *testing.T) {
	routes := []Route{
		{Source: 0, Dest: 1, Rank: 1, Interface: 4},
		{Source: 0, Dest: 1, Rank: 2, Interface: 5},
		{Source: 2, Dest: 0, Rank: 1, Interface: 9},
	}
	r1 := TriplesForRank(routes, 1)
	if len(r1) != 2 || r1[1].NodeID != 2 || r1[1].NextHopInterface != 9 {
		t.Fatalf("rank 1 triples = %+v", r1)
	}
	back := RoutesFromTriples(TriplesForRank(routes, 2), 2)
	if len(back) != 1 || back[0] != routes[1] {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestParseCacheSettings(t *testing.T) {
	if m, err := ParseCacheMode("load-or-save"); err != nil || m != CacheLoadOrSave || !m.Loads() || !m.Saves() {
		t.Fatalf("ParseCacheMode = %v, %v", m, err)
	}
	if _, err := ParseCacheMode("sometimes"); err == nil {
		t.Fatalf("unknown mode accepted")
	}
	if p, err := ParseMissPolicy("fail"); err != nil || p != MissFail {
		t.Fatalf("ParseMissPolicy = %v, %v", p, err)
	}
}
