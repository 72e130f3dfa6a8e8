package routing

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/signalsfoundry/leo-router/model"
)

// tripleSize is the on-disk size of one RouteTriple: three little-endian
// int32 values.
const tripleSize = 12

const nodeIndexFile = "nodes.txt"

// CacheKey identifies a constellation layout. Routes cached under one key
// are only valid for that layout.
type CacheKey struct {
	AltitudeKm     float64
	Planes         int
	SatsPerPlane   int
	InclinationDeg float64
	GroundStations int
	ISLEnabled     bool
}

// Dir is the key's directory name, e.g. alt550_p72_s22_inc53_gs10_isl1.
func (k CacheKey) Dir() string {
	isl := 0
	if k.ISLEnabled {
		isl = 1
	}
	return fmt.Sprintf("alt%s_p%d_s%d_inc%s_gs%d_isl%d",
		trimFloat(k.AltitudeKm), k.Planes, k.SatsPerPlane, trimFloat(k.InclinationDeg), k.GroundStations, isl)
}

func trimFloat(v float64) string {
	return strings.ReplaceAll(fmt.Sprintf("%g", v), ".", "p")
}

// CacheMode selects whether the engine reads and writes the cache.
type CacheMode int

const (
	CacheOff CacheMode = iota
	CacheLoad
	CacheSave
	CacheLoadOrSave
)

func (m CacheMode) String() string {
	switch m {
	case CacheOff:
		return "off"
	case CacheLoad:
		return "load"
	case CacheSave:
		return "save"
	case CacheLoadOrSave:
		return "load-or-save"
	default:
		return fmt.Sprintf("CacheMode(%d)", int(m))
	}
}

// ParseCacheMode maps a configuration string to a CacheMode.
func ParseCacheMode(s string) (CacheMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return CacheOff, nil
	case "load":
		return CacheLoad, nil
	case "save":
		return CacheSave, nil
	case "load-or-save", "loadorsave":
		return CacheLoadOrSave, nil
	}
	return CacheOff, fmt.Errorf("unknown cache mode %q", s)
}

// Loads reports whether the mode reads cached routes.
func (m CacheMode) Loads() bool { return m == CacheLoad || m == CacheLoadOrSave }

// Saves reports whether the mode writes computed routes.
func (m CacheMode) Saves() bool { return m == CacheSave || m == CacheLoadOrSave }

// MissPolicy decides what a tick does when the cache has no routes for it.
type MissPolicy int

const (
	// MissRecompute computes the routes instead.
	MissRecompute MissPolicy = iota
	// MissFail clears the tables and fails the tick.
	MissFail
)

func (p MissPolicy) String() string {
	if p == MissFail {
		return "fail"
	}
	return "recompute"
}

// ParseMissPolicy maps a configuration string to a MissPolicy.
func ParseMissPolicy(s string) (MissPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "recompute":
		return MissRecompute, nil
	case "fail":
		return MissFail, nil
	}
	return MissRecompute, fmt.Errorf("unknown cache miss policy %q", s)
}

// RouteCache stores per-tick routes as binary triple files:
//
//	<Root>/<key>/<tickMillis>.k<rank>.bin
//
// with a nodes.txt index per key directory.
type RouteCache struct {
	Root   string
	Mode   CacheMode
	OnMiss MissPolicy
}

func (c *RouteCache) dir(key CacheKey) string {
	return filepath.Join(c.Root, key.Dir())
}

// FilePath returns the file holding rank's routes at tick.
func (c *RouteCache) FilePath(key CacheKey, tick time.Duration, rank int) string {
	return filepath.Join(c.dir(key), fmt.Sprintf("%d.k%d.bin", tick.Milliseconds(), rank))
}

// Save writes triples for (tick, rank), replacing any previous file.
func (c *RouteCache) Save(key CacheKey, tick time.Duration, rank int, triples []model.RouteTriple) error {
	if err := os.MkdirAll(c.dir(key), 0o755); err != nil {
		return fmt.Errorf("RouteCache.Save: %w", err)
	}
	buf := bytes.NewBuffer(make([]byte, 0, len(triples)*tripleSize))
	if err := binary.Write(buf, binary.LittleEndian, triples); err != nil {
		return fmt.Errorf("RouteCache.Save: encode: %w", err)
	}
	return writeFileAtomic(c.FilePath(key, tick, rank), buf.Bytes())
}

// Load reads the triples for (tick, rank). A missing file is ErrCacheMiss.
func (c *RouteCache) Load(key CacheKey, tick time.Duration, rank int) ([]model.RouteTriple, error) {
	path := c.FilePath(key, tick, rank)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, path)
	}
	if err != nil {
		return nil, fmt.Errorf("RouteCache.Load: %w", err)
	}
	if len(data)%tripleSize != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrCacheMismatch, path, len(data))
	}
	triples := make([]model.RouteTriple, len(data)/tripleSize)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, triples); err != nil {
		return nil, fmt.Errorf("RouteCache.Load: decode: %w", err)
	}
	return triples, nil
}

// WriteNodeIndex records the name to ID mapping the cached routes use.
func (c *RouteCache) WriteNodeIndex(key CacheKey, index map[string]model.NodeID) error {
	if err := os.MkdirAll(c.dir(key), 0o755); err != nil {
		return fmt.Errorf("RouteCache.WriteNodeIndex: %w", err)
	}
	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return index[names[i]] < index[names[j]] })

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s %d\n", name, index[name])
	}
	return writeFileAtomic(filepath.Join(c.dir(key), nodeIndexFile), []byte(b.String()))
}

// ReadNodeIndex loads the index written by WriteNodeIndex.
func (c *RouteCache) ReadNodeIndex(key CacheKey) (map[string]model.NodeID, error) {
	path := filepath.Join(c.dir(key), nodeIndexFile)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, path)
	}
	if err != nil {
		return nil, fmt.Errorf("RouteCache.ReadNodeIndex: %w", err)
	}
	defer f.Close()

	index := make(map[string]model.NodeID)
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var name string
		var id int32
		if _, err := fmt.Sscan(text, &name, &id); err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", ErrCacheMismatch, path, line, err)
		}
		index[name] = model.NodeID(id)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("RouteCache.ReadNodeIndex: %w", err)
	}
	return index, nil
}

// CheckNodeIndex compares the stored index with the live one.
func (c *RouteCache) CheckNodeIndex(key CacheKey, live map[string]model.NodeID) error {
	stored, err := c.ReadNodeIndex(key)
	if err != nil {
		return err
	}
	if len(stored) != len(live) {
		return fmt.Errorf("%w: %d cached nodes, %d live", ErrCacheMismatch, len(stored), len(live))
	}
	for name, id := range live {
		if got, ok := stored[name]; !ok || got != id {
			return fmt.Errorf("%w: node %q", ErrCacheMismatch, name)
		}
	}
	return nil
}

// TriplesForRank converts the rank-th routes to cache records.
func TriplesForRank(routes []Route, rank int) []model.RouteTriple {
	var out []model.RouteTriple
	for _, r := range routes {
		if r.Rank != rank {
			continue
		}
		out = append(out, model.RouteTriple{
			NodeID:           int32(r.Source),
			Destination:      int32(r.Dest),
			NextHopInterface: r.Interface,
		})
	}
	return out
}

// RoutesFromTriples is the inverse of TriplesForRank.
func RoutesFromTriples(triples []model.RouteTriple, rank int) []Route {
	out := make([]Route, 0, len(triples))
	for _, t := range triples {
		out = append(out, Route{
			Source:    model.NodeID(t.NodeID),
			Dest:      model.NodeID(t.Destination),
			Rank:      rank,
			Interface: t.NextHopInterface,
		})
	}
	return out
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
