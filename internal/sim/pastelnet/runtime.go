package pastelnet

import (
	"context"
	"time"
)

// Submit queues an edit for the next tick. It never blocks.
func (m *Manager) Submit(e Edit) error {
	select {
	case <-m.stop:
		return ErrStopped
	default:
	}
	select {
	case m.inbox <- e:
		return nil
	default:
		return ErrInboxFull
	}
}

// Stop makes Run return after its current step.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Run is the simulation loop. Edits collected between ticks are applied in
// arrival order at the start of the next tick, then every network advances
// and a fresh State is published.
func (m *Manager) Run(ctx context.Context) error {
	hz := m.cfg.TickRateHz
	if hz <= 0 {
		hz = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	var pending []Edit
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case e := <-m.inbox:
			pending = append(pending, e)
		case <-ticker.C:
			m.Step(pending)
			pending = pending[:0]
		}
	}
}

// Step runs one tick: apply edits, advance networks, publish.
func (m *Manager) Step(edits []Edit) {
	start := time.Now()
	tick := m.tick + 1
	for _, e := range edits {
		err := m.Apply(e)
		if err != nil {
			m.log.Printf("edit %s %s: %v", e.Op, e.Key(), err)
		}
		if m.hooks.OnEdit != nil {
			m.hooks.OnEdit(tick, e, err)
		}
	}
	expired := m.Tick()
	m.publish()
	m.metrics.ObserveTick(time.Since(start), expired)
	if m.hooks.OnTick != nil {
		m.hooks.OnTick(m.tick)
	}
}
