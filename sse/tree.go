package sse

import "homectl-go/signal"

// -----------------------------------------------------------------------------
// Aggregation tree
// -----------------------------------------------------------------------------

// Node is one level of the gui-summary aggregation tree. A node optionally
// carries a waker; its children are keyed by topic token.
type Node struct {
	Waker    *signal.Broadcast
	Children map[Token]*Node
}

// EnsureChild returns the child for t, creating it if needed.
func (n *Node) EnsureChild(t Token) *Node {
	if n.Children == nil {
		n.Children = make(map[Token]*Node)
	}
	if n.Children[t] == nil {
		n.Children[t] = &Node{}
	}
	return n.Children[t]
}

type pathEntry struct {
	path  Path
	waker *signal.Broadcast
	data  []byte // canonical JSON form, the SSE event body
}

// Aggregated is the frozen tree, indexed by topic path. Built once at
// startup; subscriptions may come and go afterwards.
type Aggregated struct {
	paths map[string]*pathEntry
}

func NewAggregated(root *Node) *Aggregated {
	a := &Aggregated{paths: map[string]*pathEntry{}}
	a.traverse(nil, root)
	return a
}

func (a *Aggregated) traverse(path Path, n *Node) {
	if n == nil {
		return
	}
	if n.Waker != nil {
		p := append(Path{}, path...)
		data := canonical(p)
		a.paths[string(data)] = &pathEntry{path: p, waker: n.Waker, data: data}
	}
	for tok, child := range n.Children {
		childPath := append(append(Path{}, path...), tok)
		a.traverse(childPath, child)
	}
}

// Paths returns the number of addressable topic paths.
func (a *Aggregated) Paths() int { return len(a.paths) }

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

// SubscriptionItem is one subscribed path's coalescing stream plus the
// precomputed event body.
type SubscriptionItem struct {
	Path Path
	Data []byte
	sub  *signal.BroadcastSub
}

// C yields one receive per burst of raises on the path's waker.
func (i *SubscriptionItem) C() <-chan struct{} { return i.sub.C() }

// Subscription joins a set of topic paths onto per-path coalescing streams.
type Subscription struct {
	items []*SubscriptionItem
}

// Subscribe joins the given topic paths. Paths absent from the tree (and
// duplicates) are silently skipped; the result may be empty.
func (a *Aggregated) Subscribe(paths []Path) *Subscription {
	s := &Subscription{}
	seen := map[string]struct{}{}
	for _, p := range paths {
		key := string(canonical(p))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		entry, ok := a.paths[key]
		if !ok {
			continue
		}
		s.items = append(s.items, &SubscriptionItem{
			Path: entry.path,
			Data: entry.data,
			sub:  entry.waker.Subscribe(),
		})
	}
	return s
}

func (s *Subscription) Items() []*SubscriptionItem { return s.items }

// Close detaches every per-path stream.
func (s *Subscription) Close() {
	for _, it := range s.items {
		it.sub.Unsubscribe()
	}
}
