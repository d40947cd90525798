// Package notify delivers settings change events to subscribers.
package notify

import (
	"sort"
	"strings"
	"sync"
)

// ChangeType represents the kind of settings change.
type ChangeType int

const (
	// ChangeUpdate is a programmatic write through the settings store.
	ChangeUpdate ChangeType = iota
	// ChangeReload is a settings file edited on disk and reloaded.
	ChangeReload
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case ChangeUpdate:
		return "update"
	case ChangeReload:
		return "reload"
	default:
		return "unknown"
	}
}

// Change describes one settings change event.
type Change struct {
	// Type is the kind of change.
	Type ChangeType

	// Paths are the dot-separated leaf paths whose effective value changed.
	Paths []string

	// Source names the layer or file the change came from.
	Source string
}

// Affects reports whether the change touches section or anything below it.
func (c Change) Affects(section string) bool {
	for _, p := range c.Paths {
		if p == section || strings.HasPrefix(p, section+".") || strings.HasPrefix(section, p+".") {
			return true
		}
	}
	return false
}

// Observer is called when a change is delivered.
type Observer func(change Change)

// Subscription is an active observer registration.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes the observer. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

type entry struct {
	section  string
	observer Observer
}

// Notifier manages change subscriptions. Delivery is synchronous and in
// subscription order.
type Notifier struct {
	mu        sync.RWMutex
	observers map[uint64]entry
	nextID    uint64
	closed    bool
}

// New creates a Notifier.
func New() *Notifier {
	return &Notifier{observers: make(map[uint64]entry)}
}

// Subscribe registers an observer for every change.
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	return n.subscribe("", observer)
}

// SubscribeSection registers an observer for changes affecting section,
// e.g. "ansibleAnalyzer" receives "ansibleAnalyzer.java.home".
func (n *Notifier) SubscribeSection(section string, observer Observer) *Subscription {
	return n.subscribe(section, observer)
}

func (n *Notifier) subscribe(section string, observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.observers[id] = entry{section: section, observer: observer}
	return &Subscription{id: id, notifier: n}
}

// Notify delivers a change to matching observers. Changes without paths
// are dropped.
func (n *Notifier) Notify(change Change) {
	if len(change.Paths) == 0 {
		return
	}

	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}
	ids := make([]uint64, 0, len(n.observers))
	for id, e := range n.observers {
		if e.section == "" || change.Affects(e.section) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	observers := make([]Observer, len(ids))
	for i, id := range ids {
		observers[i] = n.observers[id].observer
	}
	n.mu.RUnlock()

	for _, obs := range observers {
		obs(change)
	}
}

// Close drops all subscriptions; later notifications are ignored.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	clear(n.observers)
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.observers, id)
}
