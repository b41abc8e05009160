package realtime

import (
	"context"
	"sync"
)

const defaultDispatcherBuffer = 16

// Dispatcher fans real-time events out to in-process subscribers. A slow
// subscriber loses events rather than blocking delivery to the others.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[EventType]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[EventType]map[int64]*subscriber),
		bufferSize:  defaultDispatcherBuffer,
	}
}

// Subscribe registers interest in one event type, or EventAll. The
// subscription ends when ctx is done or cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, eventType EventType) (<-chan Event, func()) {
	if eventType == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(eventType, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(eventType, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

func (d *Dispatcher) Publish(event Event) {
	if event.Type == "" {
		return
	}
	d.mu.RLock()
	targets := make([]*subscriber, 0, len(d.subscribers[event.Type])+len(d.subscribers[EventAll]))
	for _, sub := range d.subscribers[event.Type] {
		targets = append(targets, sub)
	}
	if event.Type != EventAll {
		for _, sub := range d.subscribers[EventAll] {
			targets = append(targets, sub)
		}
	}
	d.mu.RUnlock()
	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(eventType EventType, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[eventType]; !ok {
		d.subscribers[eventType] = make(map[int64]*subscriber)
	}
	d.subscribers[eventType][sub.id] = sub
}

func (d *Dispatcher) unregister(eventType EventType, id int64) {
	d.mu.Lock()
	subscribers := d.subscribers[eventType]
	if subscribers != nil {
		delete(subscribers, id)
		if len(subscribers) == 0 {
			delete(d.subscribers, eventType)
		}
	}
	d.mu.Unlock()
}
