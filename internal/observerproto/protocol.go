package observerproto

import "pastelcraft.ai/internal/sim/pastelnet"

// Version is the observer protocol version (separate from the edit WS protocol).
const Version = "0.1"

const (
	TypeSubscribe    = "SUBSCRIBE"
	TypeNetworkState = "NETWORK_STATE"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// World limits the stream to networks of one world; empty means all.
	World string `json:"world,omitempty"`
	// EveryTicks thins the stream to one message per N ticks.
	EveryTicks int `json:"every_ticks,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	Tick            uint64   `json:"tick"`
	Digest          string   `json:"digest"`
	TickRateHz      int      `json:"tick_rate_hz"`
	TicksPerHop     int      `json:"ticks_per_hop"`
	NodeTypes       []string `json:"node_types"`
	Priorities      []string `json:"priorities"`
	Networks        int      `json:"networks"`
	Nodes           int      `json:"nodes"`
}

// Server -> Client. Sent after every streamed tick.
type NetworkStateMsg struct {
	Type            string                   `json:"type"`
	ProtocolVersion string                   `json:"protocol_version"`
	Tick            uint64                   `json:"tick"`
	Digest          string                   `json:"digest"`
	Nodes           int                      `json:"nodes"`
	Networks        []pastelnet.NetworkState `json:"networks"`
}

func NewNetworkState(st pastelnet.State) NetworkStateMsg {
	nets := st.Networks
	if nets == nil {
		nets = []pastelnet.NetworkState{}
	}
	return NetworkStateMsg{
		Type:            TypeNetworkState,
		ProtocolVersion: Version,
		Tick:            st.Tick,
		Digest:          st.Digest,
		Nodes:           st.Nodes,
		Networks:        nets,
	}
}

// ForWorld keeps only the networks of world and recounts Nodes. An empty
// world returns m unchanged.
func (m NetworkStateMsg) ForWorld(world string) NetworkStateMsg {
	if world == "" {
		return m
	}
	out := m
	out.Networks = make([]pastelnet.NetworkState, 0, len(m.Networks))
	out.Nodes = 0
	for _, n := range m.Networks {
		if n.World == world {
			out.Networks = append(out.Networks, n)
			out.Nodes += n.Nodes
		}
	}
	return out
}
