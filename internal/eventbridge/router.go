package eventbridge

import (
	"strings"
	"sync"
)

const (
	defaultSubscriberCapacity = 64
	defaultBacklogLimit       = 32
	defaultDedupeWindow       = 512
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router delivers bridge events to the wizards running a template. Events
// that arrive before a wizard subscribes wait in a bounded backlog.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      map[string][]Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
}

// Subscription is a wizard's feed of events for one template.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with default limits.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[string]map[*subscriber]struct{}{},
		backlog:      map[string][]Event{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RouterWithLogger injects a logger for drop messages.
func RouterWithLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(capacity int) RouterOption {
	return func(r *Router) {
		if capacity > 0 {
			r.channelSize = capacity
		}
	}
}

// RouterWithBacklogLimit overrides the per-template backlog size.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are retained.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// Subscribe registers for events addressed to templateID and flushes any
// backlog for it.
func (r *Router) Subscribe(templateID string) Subscription {
	key := templateKey(templateID)
	sub := newSubscriber(r.channelSize, r.logger)
	var backlog []Event
	r.mu.Lock()
	if r.subscribers[key] == nil {
		r.subscribers[key] = map[*subscriber]struct{}{}
	}
	r.subscribers[key][sub] = struct{}{}
	if pending := r.backlog[key]; len(pending) > 0 {
		backlog = append(backlog, pending...)
		delete(r.backlog, key)
	}
	r.mu.Unlock()
	for _, event := range backlog {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(key, sub)
		},
	}
}

// HandleEvent satisfies the EventProcessor interface.
func (r *Router) HandleEvent(event Event) error {
	r.Route(event)
	return nil
}

// Route delivers the event to the template's subscribers or buffers it.
// Heartbeats are never buffered.
func (r *Router) Route(event Event) {
	key := templateKey(event.TemplateID)
	if key == "" {
		return
	}
	if event.EventID != "" && r.isDuplicate(event.EventID) {
		return
	}
	r.mu.RLock()
	subs := r.snapshotSubscribers(key)
	r.mu.RUnlock()
	if len(subs) == 0 {
		if event.Type != TypeHeartbeat {
			r.bufferEvent(key, event)
		}
		return
	}
	for _, sub := range subs {
		sub.deliver(event)
	}
}

// Pending reports how many events wait for a subscriber on templateID.
func (r *Router) Pending(templateID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backlog[templateKey(templateID)])
}

func (r *Router) snapshotSubscribers(key string) []*subscriber {
	live := r.subscribers[key]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (r *Router) removeSubscriber(key string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.subscribers[key]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, key)
		}
	}
	sub.close()
}

func (r *Router) bufferEvent(key string, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.backlog[key]
	if len(queue) >= r.backlogLimit {
		queue = queue[1:]
		if r.logger != nil {
			r.logger.Printf("eventbridge: backlog drop for template %s (limit %d)", key, r.backlogLimit)
		}
	}
	r.backlog[key] = append(queue, event)
}

func (r *Router) isDuplicate(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recentIDs[eventID]; ok {
		return true
	}
	r.recentIDs[eventID] = struct{}{}
	r.recentOrder = append(r.recentOrder, eventID)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
	return false
}

func templateKey(templateID string) string {
	return strings.TrimSpace(strings.ToLower(templateID))
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	logger Logger
	closed bool
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

// deliver never blocks. On overflow one event is dropped: heartbeats go
// first, then the older of two events of equal weight. Completions and
// session ends are kept over anything else.
func (s *subscriber) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
	}
	select {
	case oldest := <-s.ch:
		if dropRank(oldest) >= dropRank(event) {
			s.logDrop(oldest, "queue overflow")
			s.ch <- event
		} else {
			s.ch <- oldest
			s.logDrop(event, "queue overflow:incoming")
		}
	default:
		s.ch <- event
	}
}

func (s *subscriber) logDrop(event Event, reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("eventbridge: dropped %s for template %s (%s)", event.Type, event.TemplateID, reason)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// dropRank orders events by how cheaply they can be lost.
func dropRank(event Event) int {
	switch event.Type {
	case TypeHeartbeat:
		return 2
	case TypeDirtyChanged:
		return 1
	default:
		return 0
	}
}
