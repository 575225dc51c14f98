package data

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Registry owns one BookState per market. Lookups of different markets never
// contend with each other.
type Registry struct {
	books   sync.Map // market -> *BookState
	count   atomic.Int64
	updates chan<- string
}

type RegistryOption func(*Registry)

// WithUpdates makes every book mutation signal its market on ch. Sends never
// block; a lagging consumer misses notifications, not book updates.
func WithUpdates(ch chan<- string) RegistryOption {
	return func(r *Registry) { r.updates = ch }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetOrCreate returns the single BookState for market. Concurrent first calls
// all receive the same instance.
func (r *Registry) GetOrCreate(market string) *BookState {
	if v, ok := r.books.Load(market); ok {
		return v.(*BookState)
	}
	actual, loaded := r.books.LoadOrStore(market, newBookState(market, r.signal))
	if !loaded {
		r.count.Add(1)
	}
	return actual.(*BookState)
}

func (r *Registry) Get(market string) (*BookState, bool) {
	v, ok := r.books.Load(market)
	if !ok {
		return nil, false
	}
	return v.(*BookState), true
}

func (r *Registry) Remove(market string) {
	if _, loaded := r.books.LoadAndDelete(market); loaded {
		r.count.Add(-1)
	}
}

func (r *Registry) Len() int { return int(r.count.Load()) }

// All returns a copy of the market -> book mapping.
func (r *Registry) All() map[string]*BookState {
	out := make(map[string]*BookState, r.Len())
	r.books.Range(func(k, v any) bool {
		out[k.(string)] = v.(*BookState)
		return true
	})
	return out
}

// Markets returns registered market ids in sorted order.
func (r *Registry) Markets() []string {
	out := make([]string, 0, r.Len())
	r.books.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// ✅ non-blocking notify
func (r *Registry) signal(market string) {
	if r.updates == nil {
		return
	}
	select {
	case r.updates <- market:
	default:
	}
}
