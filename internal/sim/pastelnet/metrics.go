package pastelnet

import "time"

// Metrics receives registry counters. internal/metrics provides the
// Prometheus implementation.
type Metrics interface {
	SetTopology(networks, nodes int)
	Enqueued()
	Delivered(ok bool)
	Merged()
	Split()
	EditApplied(op string, err error)
	ObserveTick(d time.Duration, expired int)
}

type nopMetrics struct{}

func (nopMetrics) SetTopology(int, int)           {}
func (nopMetrics) Enqueued()                      {}
func (nopMetrics) Delivered(bool)                 {}
func (nopMetrics) Merged()                        {}
func (nopMetrics) Split()                         {}
func (nopMetrics) EditApplied(string, error)      {}
func (nopMetrics) ObserveTick(time.Duration, int) {}
