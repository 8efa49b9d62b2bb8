package pastel

import "github.com/google/uuid"

type Payload struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// Transmission is a payload in flight between two nodes of one network.
type Transmission struct {
	ID          uuid.UUID
	Source      NodeKey
	Destination NodeKey
	Path        []NodeKey
	Payload     Payload

	network *Network
}

func NewTransmission(source, destination NodeKey, path []NodeKey, payload Payload) *Transmission {
	return &Transmission{
		ID:          uuid.New(),
		Source:      source,
		Destination: destination,
		Path:        path,
		Payload:     payload,
	}
}

// Network is the network the transmission was enqueued on, or nil.
func (t *Transmission) Network() *Network { return t.network }

// Hops is the number of edges travelled.
func (t *Transmission) Hops() int {
	if len(t.Path) == 0 {
		return 0
	}
	return len(t.Path) - 1
}

func (t *Transmission) Trigger() {
	if t.network == nil {
		return
	}
	t.network.deliver(t)
}
