package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/common"
	"github.com/ternarybob/opsdeck/internal/interfaces"
)

// DefaultQueueSize is the per-subscriber buffer used by Publish
const DefaultQueueSize = 256

// subscriber delivers events to one handler in publish order
type subscriber struct {
	eventType interfaces.EventType
	handler   interfaces.EventHandler
	queue     chan queuedEvent
}

type queuedEvent struct {
	ctx   context.Context
	event interfaces.Event
}

// Service implements EventService with pub/sub pattern.
// Each subscriber owns a goroutine and a bounded queue, so one slow handler
// never reorders or blocks another.
type Service struct {
	subscribers map[interfaces.EventType][]*subscriber
	mu          sync.RWMutex
	closed      bool
	queueSize   int
	wg          sync.WaitGroup
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[interfaces.EventType][]*subscriber),
		queueSize:   DefaultQueueSize,
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("event service is closed")
	}

	sub := &subscriber{
		eventType: eventType,
		handler:   handler,
		queue:     make(chan queuedEvent, s.queueSize),
	}
	s.subscribers[eventType] = append(s.subscribers[eventType], sub)

	s.wg.Add(1)
	common.SafeGo(s.logger, "event-subscriber-"+string(eventType), func() {
		defer s.wg.Done()
		for item := range sub.queue {
			s.invoke(item.ctx, sub.handler, item.event)
		}
	})

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return nil
}

// Publish queues an event for every subscriber without waiting.
// When a subscriber's queue is full the event is dropped for that subscriber.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("event service is closed")
	}

	subs := s.subscribers[event.Type]
	if len(subs) == 0 {
		return nil
	}

	for _, sub := range subs {
		select {
		case sub.queue <- queuedEvent{ctx: ctx, event: event}:
		default:
			s.logger.Warn().
				Str("event_type", string(event.Type)).
				Int("queue_size", cap(sub.queue)).
				Msg("Subscriber queue full, event dropped")
		}
	}

	return nil
}

func (s *Service) invoke(ctx context.Context, h interfaces.EventHandler, event interfaces.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("event_type", string(event.Type)).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Event handler panicked")
		}
	}()

	if err := h(ctx, event); err != nil {
		s.logger.Error().
			Err(err).
			Str("event_type", string(event.Type)).
			Msg("Event handler failed")
	}
}

// Close stops accepting events, drains queued ones and waits for subscriber goroutines
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, subs := range s.subscribers {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	s.subscribers = make(map[interfaces.EventType][]*subscriber)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Event service closed")

	return nil
}
