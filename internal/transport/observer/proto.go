package observer

import "github.com/joonk7809/port-town-01/internal/sim/world"

const Version = "1.0"

type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	Tick            uint64   `json:"tick"`
	TickRateHz      int      `json:"tick_rate_hz"`
	Seed            int64    `json:"seed"`
	Item            string   `json:"item"`
	Scenario        string   `json:"scenario"`
	Participants    []string `json:"participants"`
	Systems         []string `json:"systems"`
}

// ClientMsg is every client frame. Type selects which fields matter.
type ClientMsg struct {
	Type            string `json:"type"` // SUBSCRIBE, SET_IN_RANGE, LEAVE
	ProtocolVersion string `json:"protocol_version,omitempty"`

	IntervalMS int `json:"interval_ms,omitempty"`

	Participant string `json:"participant,omitempty"`
	InRange     bool   `json:"in_range,omitempty"`
}

type MetricsMsg struct {
	Type            string             `json:"type"` // METRICS
	ProtocolVersion string             `json:"protocol_version"`
	Metrics         world.WorldMetrics `json:"metrics"`
}

type AckMsg struct {
	Type   string `json:"type"` // ACK
	Ref    string `json:"ref"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}
