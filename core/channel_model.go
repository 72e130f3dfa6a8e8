package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMetric is returned for link metric names that are not supported.
var ErrUnknownMetric = errors.New("unknown link metric")

// DefaultDataRateBps is the channel rate of every link direction.
const DefaultDataRateBps = 10e6

// MinLinkWeight is the floor applied to every link weight so that
// zero-length links still cost something.
const MinLinkWeight = 1e-12

// ChannelModel describes the channels created for new links.
type ChannelModel struct {
	DataRateBps float64
}

// DefaultChannelModel returns the 10 Mbps channel.
func DefaultChannelModel() ChannelModel {
	return ChannelModel{DataRateBps: DefaultDataRateBps}
}

// LinkMetric selects how link weights are derived.
type LinkMetric string

const (
	MetricDelay    LinkMetric = "delay"
	MetricHopCount LinkMetric = "hopCount"
	MetricDataRate LinkMetric = "dataRate"
)

// ParseLinkMetric maps a configuration string to a LinkMetric. An empty
// string selects delay.
func ParseLinkMetric(s string) (LinkMetric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "delay":
		return MetricDelay, nil
	case "hopcount", "hops":
		return MetricHopCount, nil
	case "datarate":
		return MetricDataRate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Weight computes the routing cost of a link.
func (m LinkMetric) Weight(l NetworkLink) float64 {
	var w float64
	switch m {
	case MetricHopCount:
		w = 1
	case MetricDataRate:
		if l.DataRateBps > 0 {
			w = 1 / l.DataRateBps
		}
	default:
		w = l.DelaySeconds
	}
	if w < MinLinkWeight {
		return MinLinkWeight
	}
	return w
}
