package pastel

type nodeSet map[NodeKey]Node

func (s nodeSet) add(n Node) bool {
	k := n.Key()
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = n
	return true
}

func (s nodeSet) remove(k NodeKey) bool {
	if _, ok := s[k]; !ok {
		return false
	}
	delete(s, k)
	return true
}

func (s nodeSet) sorted() []Node {
	out := make([]Node, 0, len(s))
	for _, n := range s {
		out = append(out, n)
	}
	sortNodes(out)
	return out
}

// priorityIndex keeps the moderate and high tiers as flat sets across all
// node types. Generic nodes live only in the per-type sets.
type priorityIndex struct {
	tiers map[Priority]nodeSet
}

func newPriorityIndex() priorityIndex {
	return priorityIndex{tiers: map[Priority]nodeSet{
		Moderate: {},
		High:     {},
	}}
}

func (p priorityIndex) add(n Node) {
	if set, ok := p.tiers[n.Priority()]; ok {
		set.add(n)
	}
}

func (p priorityIndex) remove(n Node, prio Priority) {
	if set, ok := p.tiers[prio]; ok {
		set.remove(n.Key())
	}
}

func (p priorityIndex) tier(prio Priority) (nodeSet, bool) {
	set, ok := p.tiers[prio]
	return set, ok
}
