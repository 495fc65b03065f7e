package marketdata

import (
	"sort"
	"sync"
	"time"
)

// SubscriptionManager bounds the tracked symbol set. When full, a new
// request evicts the least recently active symbol so the stream stays
// within the venue's per-connection limits.
type SubscriptionManager struct {
	mu        sync.Mutex
	capacity  int
	onEvict   func(symbol string)
	now       func() time.Time
	keepAlive map[string]time.Time
	active    map[string]time.Time
}

// NewSubscriptions creates a manager with the given capacity. onEvict
// may be nil; when set it runs outside the manager lock.
func NewSubscriptions(capacity int, onEvict func(symbol string)) *SubscriptionManager {
	return &SubscriptionManager{
		capacity:  capacity,
		onEvict:   onEvict,
		now:       time.Now,
		keepAlive: make(map[string]time.Time),
		active:    make(map[string]time.Time),
	}
}

// Request admits symbol, evicting the least recently active entry when
// full. Returns false only when the manager has no capacity at all.
func (m *SubscriptionManager) Request(symbol string) bool {
	m.mu.Lock()

	if m.capacity <= 0 {
		m.mu.Unlock()
		return false
	}

	now := m.now()
	if _, ok := m.active[symbol]; ok {
		m.active[symbol] = now
		m.mu.Unlock()
		return true
	}

	var evicted string
	if len(m.active) >= m.capacity {
		evicted = m.oldestLocked()
		delete(m.active, evicted)
		delete(m.keepAlive, evicted)
	}

	m.keepAlive[symbol] = now
	m.active[symbol] = now
	m.mu.Unlock()

	if evicted != "" && m.onEvict != nil {
		m.onEvict(evicted)
	}
	return true
}

// Touch refreshes the activity timestamp of a tracked symbol.
func (m *SubscriptionManager) Touch(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[symbol]; ok {
		m.active[symbol] = m.now()
	}
}

// Remove drops symbol without firing the eviction callback.
func (m *SubscriptionManager) Remove(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, symbol)
	delete(m.keepAlive, symbol)
}

// Active returns the tracked symbols in sorted order.
func (m *SubscriptionManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.active))
	for sym := range m.active {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether symbol is tracked.
func (m *SubscriptionManager) Contains(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[symbol]
	return ok
}

// Len returns the tracked symbol count.
func (m *SubscriptionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// oldestLocked picks the eviction victim: minimum activity timestamp,
// ties broken by the lexicographically smallest symbol.
func (m *SubscriptionManager) oldestLocked() string {
	var victim string
	var victimTS time.Time
	for sym, ts := range m.active {
		if victim == "" || ts.Before(victimTS) || (ts.Equal(victimTS) && sym < victim) {
			victim = sym
			victimTS = ts
		}
	}
	return victim
}
