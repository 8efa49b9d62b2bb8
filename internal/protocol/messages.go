package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type              string     `json:"type"`
	ProtocolVersion   string     `json:"protocol_version"`
	SupportedVersions []string   `json:"supported_versions,omitempty"`
	ClientName        string     `json:"client_name"`
	Auth              *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	ServerTick      uint64       `json:"server_tick"`
	Params          ServerParams `json:"params"`
}

type ServerParams struct {
	TickRateHz   int      `json:"tick_rate_hz"`
	TicksPerHop  int      `json:"ticks_per_hop"`
	NodeTypes    []string `json:"node_types"`
	Priorities   []string `json:"priorities"`
	TuningDigest string   `json:"tuning_digest,omitempty"`
}

// EDIT (client -> server): one world change for the network registry.
// Edits are queued and applied at the start of the next tick; the ACK only
// reports whether the edit was accepted into the queue.
type EditMsg struct {
	Type            string `json:"type" validate:"eq=EDIT"`
	ProtocolVersion string `json:"protocol_version"`
	EditID          string `json:"edit_id" validate:"required,max=64"`

	Op    string `json:"op" validate:"oneof=PLACE BREAK PRIORITY SEND"`
	World string `json:"world" validate:"required,max=64"`
	Pos   [3]int `json:"pos" validate:"dive,min=-30000000,max=30000000"`

	NodeType string   `json:"node_type,omitempty" validate:"required_if=Op PLACE,omitempty,oneof=PROVIDER SENDER GATHER STORAGE BUFFER CONNECTION"`
	Priority string   `json:"priority,omitempty" validate:"required_if=Op PRIORITY,omitempty,oneof=GENERIC MODERATE HIGH"`
	Range    int      `json:"range,omitempty" validate:"min=0,max=64"`
	Reason   string   `json:"reason,omitempty" validate:"omitempty,oneof=BROKEN UNLOADED"`
	Item     string   `json:"item,omitempty" validate:"required_if=Op SEND,max=64"`
	Count    int      `json:"count,omitempty" validate:"required_if=Op SEND,min=0,max=4096"`
	Targets  []string `json:"targets,omitempty" validate:"max=6,dive,oneof=PROVIDER SENDER GATHER STORAGE BUFFER CONNECTION"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}
