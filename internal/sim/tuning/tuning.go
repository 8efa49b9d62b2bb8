package tuning

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz" json:"tick_rate_hz" validate:"min=1,max=100"`
	TicksPerHop        int `yaml:"ticks_per_hop" json:"ticks_per_hop" validate:"min=0,max=1200"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks" validate:"min=0"`
	InboxSize          int `yaml:"inbox_size" json:"inbox_size" validate:"min=1,max=65536"`

	Nodes NodeTuning `yaml:"nodes" json:"nodes"`
}

type NodeTuning struct {
	// Connection range in blocks, per node type name (PROVIDER, SENDER, ...).
	// Types not listed use DefaultRange.
	DefaultRange int            `yaml:"default_range" json:"default_range" validate:"min=1,max=64"`
	Ranges       map[string]int `yaml:"ranges,omitempty" json:"ranges,omitempty" validate:"dive,min=1,max=64"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		TicksPerHop:        10,
		SnapshotEveryTicks: 6000,
		InboxSize:          1024,
		Nodes: NodeTuning{
			DefaultRange: 12,
		},
	}
}

// Load reads tuning.yaml over the defaults. Fields missing from the file keep
// their default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	return validate.Struct(t)
}

// RangeFor returns the connection range for a node type name.
func (t Tuning) RangeFor(nodeType string) int {
	if r, ok := t.Nodes.Ranges[nodeType]; ok && r > 0 {
		return r
	}
	return t.Nodes.DefaultRange
}
