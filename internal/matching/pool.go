package matching

import "container/list"

// Pool holds unpaired clients in arrival order. Each id appears at most once.
type Pool struct {
	order *list.List
	index map[string]*list.Element
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Enqueue appends c at the tail, replacing any entry already held for c.ID.
func (p *Pool) Enqueue(c Client) {
	p.Remove(c.ID)
	p.index[c.ID] = p.order.PushBack(c)
}

// Remove deletes the entry for id. It reports whether one was present.
func (p *Pool) Remove(id string) bool {
	elem, ok := p.index[id]
	if !ok {
		return false
	}
	p.order.Remove(elem)
	delete(p.index, id)
	return true
}

// TakeFirstMatching removes and returns the oldest client sharing at least one
// tag with tags.
func (p *Pool) TakeFirstMatching(tags []string) (Client, bool) {
	if len(tags) == 0 {
		return Client{}, false
	}
	for elem := p.order.Front(); elem != nil; elem = elem.Next() {
		c := elem.Value.(Client)
		if len(c.sharedInterests(tags)) == 0 {
			continue
		}
		p.order.Remove(elem)
		delete(p.index, c.ID)
		return c, true
	}
	return Client{}, false
}

// PopOldest removes and returns the longest waiting client.
func (p *Pool) PopOldest() (Client, bool) {
	elem := p.order.Front()
	if elem == nil {
		return Client{}, false
	}
	c := p.order.Remove(elem).(Client)
	delete(p.index, c.ID)
	return c, true
}

// Contains reports whether id is waiting.
func (p *Pool) Contains(id string) bool {
	_, ok := p.index[id]
	return ok
}

// Len returns the number of waiting clients.
func (p *Pool) Len() int { return p.order.Len() }

// IDs returns the waiting ids, oldest first.
func (p *Pool) IDs() []string {
	out := make([]string, 0, p.order.Len())
	for elem := p.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(Client).ID)
	}
	return out
}
