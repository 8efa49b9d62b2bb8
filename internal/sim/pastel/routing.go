package pastel

var routeTiers = []Priority{High, Moderate, Generic}

// Route picks a destination for payload leaving source and schedules a
// transmission to it. Tiers are tried from High down to Generic; inside a
// tier the closest reachable node of one of the target types wins, ties going
// to the lower key. The travel time is hops*ticksPerHop.
func (n *Network) Route(source Node, payload Payload, ticksPerHop int, targets ...NodeType) (*Transmission, bool) {
	if source == nil || !n.Contains(source.Key()) {
		return nil, false
	}
	want := make(map[NodeType]bool, len(targets))
	for _, t := range targets {
		want[t] = true
	}
	accept := func(node Node) bool {
		if node.Key() == source.Key() {
			return false
		}
		return len(want) == 0 || want[node.NodeType()]
	}

	g := n.Graph()
	dist := g.Distances(source.Key())
	for _, tier := range routeTiers {
		var candidates []Node
		if tier == Generic {
			for _, t := range NodeTypes() {
				if len(want) > 0 && !want[t] {
					continue
				}
				candidates = append(candidates, n.Nodes(t)...)
			}
			sortNodes(candidates)
		} else {
			candidates = n.NodesByPriority(0, tier)
		}

		var (
			best     Node
			bestHops int
		)
		for _, c := range candidates {
			if !accept(c) {
				continue
			}
			hops, ok := dist[c.Key()]
			if !ok {
				continue
			}
			if best == nil || hops < bestHops {
				best, bestHops = c, hops
			}
		}
		if best == nil {
			continue
		}
		path, _ := g.ShortestPath(source.Key(), best.Key())
		t := NewTransmission(source.Key(), best.Key(), path, payload)
		n.AddTransmission(t, bestHops*ticksPerHop)
		return t, true
	}
	return nil, false
}
