package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bitwar/backend/go/internal/v1/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// PubSubPayload is the standardized envelope for room and battle events.
// Origin identifies the publishing instance so a pod can skip messages it
// already delivered to its own sockets (prevents echo loops).
type PubSubPayload struct {
	Topic    string          `json:"topic"`
	Event    string          `json:"event"`            // e.g. "chat_message", "battle_started"
	Payload  json.RawMessage `json:"payload"`          // the full client frame, marshaled once
	SenderID string          `json:"senderId"`         // username that triggered the event, if any
	Origin   string          `json:"origin,omitempty"` // publishing instance id
}

type subscriber struct {
	id      uint64
	handler func(PubSubPayload)
}

// Service fans events out to every subscriber of a topic: local subscribers
// synchronously, and subscribers on other pods through Redis Pub/Sub. With no
// Redis client it degrades to single-instance, local-only delivery.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	id     string

	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscriber
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a Redis-backed bus with a circuit breaker around every call.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis Pub/Sub", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
		id:     uuid.NewString(),
		subs:   make(map[string][]subscriber),
	}, nil
}

// NewLocalService creates a bus without Redis. Publish still delivers to
// subscribers in this process, so a single instance behaves identically.
func NewLocalService() *Service {
	return &Service{
		id:   uuid.NewString(),
		subs: make(map[string][]subscriber),
	}
}

// Publish delivers an event to every subscriber of topic. Local subscribers
// receive it synchronously in publish order; other pods receive it via Redis.
// Redis failures degrade to local-only delivery rather than failing the caller.
func (s *Service) Publish(ctx context.Context, topic string, event string, payload any, senderID string) error {
	if s == nil {
		return nil
	}

	innerBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := PubSubPayload{
		Topic:    topic,
		Event:    event,
		Payload:  innerBytes,
		SenderID: senderID,
		Origin:   s.id,
	}

	metrics.BusEventsPublished.WithLabelValues(event).Inc()
	s.dispatchLocal(msg)

	if s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err = s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pubsub envelope: %w", err)
		}

		// Channel schema: "bitwar:{topic}"
		return nil, s.client.Publish(ctx, channelName(topic), data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			metrics.BusEventsDropped.WithLabelValues("breaker_open").Inc()
			slog.Warn("Redis Circuit Breaker Open: dropping cross-pod publish", "topic", topic, "event", event)
			return nil // Graceful degradation: local delivery already happened
		}
		slog.Error("Redis Publish Failed", "topic", topic, "event", event, "error", err)
		return err
	}

	return nil
}

// dispatchLocal runs every local handler for the topic on the caller's
// goroutine, preserving per-publisher ordering.
func (s *Service) dispatchLocal(msg PubSubPayload) {
	s.mu.RLock()
	handlers := make([]func(PubSubPayload), 0, len(s.subs[msg.Topic]))
	for _, sub := range s.subs[msg.Topic] {
		handlers = append(handlers, sub.handler)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

// Subscribe registers handler for a topic until ctx is cancelled. The handler
// runs for messages published locally and, when Redis is configured, for
// messages from other pods. It may be called from multiple goroutines.
func (s *Service) Subscribe(ctx context.Context, topic string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	if s == nil {
		return
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[topic] = append(s.subs[topic], subscriber{id: id, handler: handler})
	s.mu.Unlock()

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		<-ctx.Done()
		s.unsubscribe(topic, id)
	}()

	if s.client == nil {
		return // Single-instance mode, no Redis available
	}

	pubsub := s.client.Subscribe(ctx, channelName(topic))

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("Subscribed to Redis channel", "channel", channelName(topic))

		ch := pubsub.Channel()

		// Read indefinitely until the context is cancelled or connection dies
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("Redis subscription channel closed", "channel", channelName(topic))
					return
				}

				var payload PubSubPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					slog.Error("Failed to unmarshal Redis message", "error", err, "raw", msg.Payload)
					continue
				}

				// This instance already delivered its own publishes locally.
				if payload.Origin == s.id {
					continue
				}

				handler(payload)
			}
		}
	}()
}

func (s *Service) unsubscribe(topic string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subs[topic]
	for i, sub := range subs {
		if sub.id == id {
			s.subs[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.subs[topic]) == 0 {
		delete(s.subs, topic)
	}
}

func channelName(topic string) string {
	return "bitwar:" + topic
}

// Ping checks Redis connectivity using the PING command
// Used by health checks to verify Redis is reachable
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}
	return s.client.Close()
}

// SetAdd adds a member to a Redis Set. Used for cross-pod presence tracking.
func (s *Service) SetAdd(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis Circuit Breaker Open: skipping SetAdd", "key", key)
			return nil // Graceful degradation
		}
		slog.Error("Redis SetAdd failed", "key", key, "member", member, "error", err)
		return fmt.Errorf("failed to add to set: %w", err)
	}
	return nil
}

// SetRem removes a member from a Redis Set.
func (s *Service) SetRem(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis Circuit Breaker Open: skipping SetRem", "key", key)
			return nil // Graceful degradation
		}
		slog.Error("Redis SetRem failed", "key", key, "member", member, "error", err)
		return fmt.Errorf("failed to remove from set: %w", err)
	}
	return nil
}

// SetMembers retrieves all members of a Redis Set.
func (s *Service) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil // Single-instance mode, no Redis available
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, key).Result()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis Circuit Breaker Open: returning empty set members", "key", key)
			return nil, nil // Graceful degradation: callers fall back to local state
		}
		slog.Error("Redis SetMembers failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get set members: %w", err)
	}
	return res.([]string), nil
}
