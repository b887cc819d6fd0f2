package broker

import (
	"fmt"
	"sync"
)

// AdminGroup is the fixed group every staff dashboard connection joins.
const AdminGroup = "admin"

// ChatGroup names the per-chat group.
func ChatGroup(chatID int64) string {
	return fmt.Sprintf("chat:%d", chatID)
}

const defaultEventBuffer = 64

// Subscription is one connection's inbox. Events are delivered into a
// buffered channel; a subscription that stops draining loses events rather
// than stalling the publisher. Subscriptions are never closed; after the
// last Leave no further sends happen and the channel is simply collected.
type Subscription struct {
	events chan Event
}

func NewSubscription() *Subscription {
	return &Subscription{events: make(chan Event, defaultEventBuffer)}
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Broker owns every group membership set in the process. Endpoints never
// touch the sets directly; they only Join, Leave and Publish. A single
// coarse lock serializes all three. Group cardinality is small and the
// lock is only ever held for a set mutation or an enumerate-and-enqueue
// loop, never across a network write.
type Broker struct {
	mu     sync.Mutex
	groups map[string]map[*Subscription]struct{}
}

func New() *Broker {
	return &Broker{groups: make(map[string]map[*Subscription]struct{})}
}

// Join adds sub to the named group. Idempotent.
func (b *Broker) Join(group string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members := b.groups[group]
	if members == nil {
		members = make(map[*Subscription]struct{})
		b.groups[group] = members
	}
	members[sub] = struct{}{}
}

// Leave removes sub from the named group. No-op if absent. The empty group
// entry is dropped so abandoned chat groups don't accumulate.
func (b *Broker) Leave(group string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.groups[group]
	if !ok {
		return
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(b.groups, group)
	}
}

// Publish delivers event to every current member of the group, best-effort.
// A member whose buffer is full is skipped, and publishing to an empty or
// unknown group is a silent no-op. Per subscription, events from a single
// publisher arrive in publish order.
func (b *Broker) Publish(group string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.groups[group] {
		select {
		case sub.events <- event:
		default:
		}
	}
}

// MemberCount reports the current size of a group.
func (b *Broker) MemberCount(group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups[group])
}
