package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/leo-router/internal/logging"
	"github.com/signalsfoundry/leo-router/kb"
	"github.com/signalsfoundry/leo-router/orbit"
)

// MobilityReport summarises one position update pass.
type MobilityReport struct {
	Updated int
	Failed  int
}

// MobilityService propagates every node to the simulation time and stores
// the result in the node registry.
type MobilityService struct {
	Registry *kb.KnowledgeBase
	Nodes    []Node
	Log      logging.Logger

	// UpdateInterval is how often positions are refreshed. The routing
	// timer is derived from it.
	UpdateInterval time.Duration
}

// UpdatePositions refreshes all node positions for t. A node whose
// propagation fails keeps its previous position; only registry errors
// abort the pass.
func (m *MobilityService) UpdatePositions(ctx context.Context, t time.Time) (MobilityReport, error) {
	var rep MobilityReport
	log := m.Log
	if log == nil {
		log = logging.Noop()
	}
	for _, n := range m.Nodes {
		info := n.Info()
		pos, err := n.PositionAt(t)
		if err != nil {
			if !errors.Is(err, orbit.ErrPropagation) {
				return rep, fmt.Errorf("UpdatePositions: node %q: %w", info.Name, err)
			}
			rep.Failed++
			log.Warn(ctx, "propagation failed, keeping last position",
				logging.String("node", info.Name),
				logging.Err(err),
			)
			continue
		}
		if err := m.Registry.UpdatePosition(info.ID, pos); err != nil {
			return rep, fmt.Errorf("UpdatePositions: %w", err)
		}
		rep.Updated++
	}
	return rep, nil
}
