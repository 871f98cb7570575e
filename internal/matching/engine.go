package matching

import "time"

// Pair is the result of a successful AddUser call.
//
// Initiator is the client that joined last and is expected to start the
// offer/answer exchange. CommonInterests is empty when the pair was formed by
// the oldest-waiting fallback.
type Pair struct {
	Initiator       string
	Partner         string
	CommonInterests []string
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Waiting int `json:"waiting"`
	Pairs   int `json:"pairs"`
}

// Engine pairs clients from a waiting pool and tracks the resulting pairs.
// It is not safe for concurrent use.
type Engine struct {
	pool  *Pool
	pairs map[string]string
	now   func() time.Time
}

// NewEngine returns an engine with an empty pool and no pairs.
func NewEngine() *Engine {
	return &Engine{
		pool:  NewPool(),
		pairs: make(map[string]string),
		now:   time.Now,
	}
}

// AddUser places id in the pool or pairs it immediately.
//
// A client already waiting or paired is removed first, so a repeated join
// behaves like a leave followed by a join. The first waiting client (in
// arrival order) sharing any tag wins; without one, the longest waiting client
// is taken regardless of tags. If the pool is empty, id is enqueued and ok is
// false.
func (e *Engine) AddUser(id string, interests []string) (pair Pair, ok bool) {
	e.RemoveUser(id)

	client := Client{ID: id, Interests: interests, JoinedAt: e.now()}

	if match, found := e.pool.TakeFirstMatching(interests); found {
		return e.link(client, match, match.sharedInterests(interests)), true
	}
	if oldest, found := e.pool.PopOldest(); found {
		return e.link(client, oldest, []string{}), true
	}

	e.pool.Enqueue(client)
	return Pair{}, false
}

// RemoveUser takes id out of the pool and dissolves its pair, returning the
// former partner. Unknown ids are ignored.
func (e *Engine) RemoveUser(id string) (partner string, ok bool) {
	e.pool.Remove(id)

	partner, ok = e.pairs[id]
	if !ok {
		return "", false
	}
	delete(e.pairs, id)
	delete(e.pairs, partner)
	return partner, true
}

func (e *Engine) link(joining, waiting Client, common []string) Pair {
	e.pairs[joining.ID] = waiting.ID
	e.pairs[waiting.ID] = joining.ID
	if common == nil {
		common = []string{}
	}
	return Pair{
		Initiator:       joining.ID,
		Partner:         waiting.ID,
		CommonInterests: common,
	}
}

// PartnerOf returns the current partner of id.
func (e *Engine) PartnerOf(id string) (string, bool) {
	partner, ok := e.pairs[id]
	return partner, ok
}

// IsWaiting reports whether id is in the pool.
func (e *Engine) IsWaiting(id string) bool { return e.pool.Contains(id) }

// Waiting returns the waiting ids, oldest first.
func (e *Engine) Waiting() []string { return e.pool.IDs() }

// Stats returns the pool size and pair count.
func (e *Engine) Stats() Stats {
	return Stats{
		Waiting: e.pool.Len(),
		Pairs:   len(e.pairs) / 2,
	}
}
