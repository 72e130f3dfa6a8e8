package recorder

import (
	"context"
	"fmt"
	"sync"

	qdb "github.com/questdb/go-questdb-client"
)

// QuestDBTable receives one ILP line per routing cycle.
const QuestDBTable = "routing_ticks"

// QuestDBSink streams tick rows over the InfluxDB line protocol.
type QuestDBSink struct {
	mu     sync.Mutex
	sender *qdb.LineSender
}

// NewQuestDBSink connects to the ILP endpoint at address (host:port).
func NewQuestDBSink(ctx context.Context, address string) (*QuestDBSink, error) {
	sender, err := qdb.NewLineSender(ctx, qdb.WithAddress(address))
	if err != nil {
		return nil, fmt.Errorf("NewQuestDBSink: connect %q: %w", address, err)
	}
	return &QuestDBSink{sender: sender}, nil
}

// Write sends row and flushes it, so a QuestDB restart loses at most one
// cycle.
func (s *QuestDBSink) Write(ctx context.Context, row TickRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := "ok"
	if row.Error != "" {
		result = "error"
	}
	var cacheHit int64
	if row.CacheHit {
		cacheHit = 1
	}
	err := s.sender.
		Table(QuestDBTable).
		Symbol("variant", row.Variant).
		Symbol("result", result).
		Int64Column("tick_ms", row.TickMillis).
		Int64Column("links", int64(row.Links)).
		Int64Column("entries", int64(row.Entries)).
		Int64Column("ground_added", int64(row.GroundAdded)).
		Int64Column("ground_removed", int64(row.GroundRemoved)).
		Int64Column("partitions", int64(row.Partitions)).
		Int64Column("propagation_failures", int64(row.PropagationFailures)).
		Int64Column("cache_hit", cacheHit).
		Float64Column("duration_ms", float64(row.DurationMicros)/1000).
		At(ctx, row.Timestamp*1_000_000)
	if err != nil {
		return fmt.Errorf("questdb line: %w", err)
	}
	if err := s.sender.Flush(ctx); err != nil {
		return fmt.Errorf("questdb flush: %w", err)
	}
	return nil
}

func (s *QuestDBSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sender.Flush(ctx); err != nil {
		s.sender.Close()
		return fmt.Errorf("questdb flush: %w", err)
	}
	return s.sender.Close()
}
