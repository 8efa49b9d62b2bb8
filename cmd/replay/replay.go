package main

import (
	persistlog "pastelcraft.ai/internal/persistence/log"
	"pastelcraft.ai/internal/sim/pastelnet"
)

type result struct {
	Ticks   uint64
	Applied int
	Skipped int
}

// replay steps mgr one tick at a time, applying each journaled edit on the
// tick it was originally applied. Entries at or before the manager's current
// tick and entries that failed when recorded are skipped. With until zero the
// replay stops at the last journaled tick.
func replay(mgr *pastelnet.Manager, entries []persistlog.EditEntry, until uint64) result {
	var res result
	start := mgr.CurrentTick()
	byTick := map[uint64][]pastelnet.Edit{}
	last := start
	for _, e := range entries {
		if e.Tick <= start || e.Error != "" || (until != 0 && e.Tick > until) {
			res.Skipped++
			continue
		}
		byTick[e.Tick] = append(byTick[e.Tick], e.Edit)
		res.Applied++
		if e.Tick > last {
			last = e.Tick
		}
	}
	if until != 0 {
		last = until
	}
	for mgr.CurrentTick() < last {
		mgr.Step(byTick[mgr.CurrentTick()+1])
		res.Ticks++
	}
	return res
}
