package serialization

import (
	"sync"

	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
)

type EventKind int

const (
	EventSerializing EventKind = iota
	EventSerializingMember
	EventSerializedMember
	EventSerialized
	EventDeserializing
	EventDeserializingMember
	EventDeserializedMember
	EventDeserialized
)

var eventKindNames = [...]string{
	"Serializing",
	"SerializingMember",
	"SerializedMember",
	"Serialized",
	"Deserializing",
	"DeserializingMember",
	"DeserializedMember",
	"Deserialized",
}

func (k EventKind) String() string {
	if int(k) >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "Unknown"
}

// EventArgs 为事件参数，Member 仅在成员级事件中非空。
type EventArgs struct {
	Kind    EventKind
	Context *Context
	Member  *member.Value
}

type EventHandler func(args *EventArgs)

type subscription struct {
	id      uint64
	handler EventHandler
}

// eventBus 按事件类型分发，订阅列表写时复制，触发时不持有锁。
type eventBus struct {
	mu       sync.RWMutex
	handlers map[EventKind][]subscription
	nextID   uint64
}

func newEventBus() *eventBus {
	return &eventBus{handlers: make(map[EventKind][]subscription)}
}

func (b *eventBus) subscribe(kind EventKind, h EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	current := b.handlers[kind]
	b.handlers[kind] = append(current[:len(current):len(current)], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		current := b.handlers[kind]
		next := make([]subscription, 0, len(current))
		for _, s := range current {
			if s.id != id {
				next = append(next, s)
			}
		}
		b.handlers[kind] = next
	}
}

func (b *eventBus) raise(kind EventKind, ctx *Context, mv *member.Value) {
	b.mu.RLock()
	subs := b.handlers[kind]
	b.mu.RUnlock()
	if len(subs) == 0 {
		return
	}
	args := &EventArgs{Kind: kind, Context: ctx, Member: mv}
	for _, s := range subs {
		s.handler(args)
	}
}
