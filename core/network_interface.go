package core

import (
	"fmt"

	"github.com/signalsfoundry/leo-router/model"
)

// NetworkInterface represents a logical port on a node. Interface IDs are
// unique across the whole network and never reused for another node; a
// disconnected interface stays attached to its node and is handed out
// again by AllocateInterface.
type NetworkInterface struct {
	ID           int32         `json:"ID"`
	Name         string        `json:"Name"`
	ParentNodeID model.NodeID  `json:"ParentNodeID"`
	Address      model.Address `json:"Address"`
	Loopback     bool          `json:"Loopback"`

	// Connected is true while the interface is bound to a live link.
	Connected bool   `json:"Connected"`
	LinkID    string `json:"LinkID,omitempty"`

	DataRateBps float64 `json:"DataRateBps,omitempty"`
}

func interfaceName(node model.NodeID, index int) string {
	return fmt.Sprintf("n%d-if%d", node, index)
}
