package pastel

// graphCache is either unbuilt or holds a graph that matches the current
// node set. Single adds and removes patch a built graph in place; merges
// invalidate it.
type graphCache struct {
	built bool
	g     *Graph
}

func (c *graphCache) invalidate() {
	c.built = false
	c.g = nil
}

func (c *graphCache) get(build func() *Graph) *Graph {
	if !c.built {
		c.g = build()
		c.built = true
	}
	return c.g
}

// patchAdd adds n and tests it against every other node. No-op while unbuilt.
func (c *graphCache) patchAdd(n Node, others []Node) {
	if !c.built {
		return
	}
	k := n.Key()
	c.g.addVertex(k)
	for _, o := range others {
		if o.Key() == k {
			continue
		}
		if n.CanConnect(o) {
			c.g.addEdge(k, o.Key())
		}
	}
}

func (c *graphCache) patchRemove(k NodeKey) {
	if !c.built {
		return
	}
	c.g.removeVertex(k)
}
