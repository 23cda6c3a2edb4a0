package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"playloop/internal/core/domain"
	"playloop/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	publishQueueSize = 256
	publishTimeout   = 3 * time.Second
)

var ErrBusClosed = errors.New("command bus closed")

// Envelope is the wire form of a command on the bus.
type Envelope struct {
	InstanceID string         `json:"instance_id"`
	Command    domain.Command `json:"command"`
}

// CommandBus publishes session commands to Redis pub/sub so engines
// attached to other processes can act on them. It implements
// ports.CommandSink.
type CommandBus struct {
	client     redis.UniversalClient
	prefix     string
	instanceID string
	breaker    *circuitbreaker.CircuitBreaker

	queue  chan domain.Command
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup

	logger *zap.SugaredLogger
}

func NewCommandBus(client redis.UniversalClient, prefix, instanceID string, logger *zap.SugaredLogger) *CommandBus {
	b := &CommandBus{
		client:     client,
		prefix:     prefix,
		instanceID: instanceID,
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
		queue:      make(chan domain.Command, publishQueueSize),
		done:       make(chan struct{}),
		logger:     logger,
	}

	b.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("command bus circuit state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	b.wg.Add(1)
	go b.publishLoop()

	return b
}

// Channel returns the pub/sub channel carrying commands for sessionID.
func (b *CommandBus) Channel(sessionID domain.SessionID) string {
	return b.prefix + ":" + string(sessionID)
}

// Deliver queues cmd for publishing. It never blocks; commands are dropped
// when the queue is full or the bus is closed.
func (b *CommandBus) Deliver(cmd domain.Command) {
	if b.closed.Load() {
		return
	}
	select {
	case b.queue <- cmd:
	default:
		b.logger.Warnw("command bus queue full, dropping command",
			"session_id", cmd.SessionID,
			"type", cmd.Type,
		)
	}
}

// Publish sends cmd synchronously. After repeated Redis failures it fails
// fast with circuitbreaker.ErrOpen until the breaker lets a probe through.
func (b *CommandBus) Publish(ctx context.Context, cmd domain.Command) error {
	data, err := json.Marshal(Envelope{InstanceID: b.instanceID, Command: cmd})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	err = b.breaker.Execute(func() error {
		return b.client.Publish(ctx, b.Channel(cmd.SessionID), data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish command: %w", err)
	}

	b.logger.Debugw("published command",
		"session_id", cmd.SessionID,
		"type", cmd.Type,
		"quality_id", cmd.QualityID,
	)
	return nil
}

func (b *CommandBus) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case cmd := <-b.queue:
			b.publishOne(cmd)
		case <-b.done:
			for {
				select {
				case cmd := <-b.queue:
					b.publishOne(cmd)
				default:
					return
				}
			}
		}
	}
}

func (b *CommandBus) publishOne(cmd domain.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := b.Publish(ctx, cmd)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		b.logger.Debugw("redis unavailable, dropping command",
			"session_id", cmd.SessionID,
			"type", cmd.Type,
		)
		return
	}
	if err != nil {
		b.logger.Warnw("error publishing command",
			"session_id", cmd.SessionID,
			"type", cmd.Type,
			"error", err,
		)
	}
}

// Close flushes queued commands and stops the publisher.
func (b *CommandBus) Close() error {
	b.once.Do(func() {
		b.closed.Store(true)
		close(b.done)
	})
	b.wg.Wait()
	return nil
}

// Subscription streams commands received from the bus.
type Subscription struct {
	pubsub   *redis.PubSub
	commands chan domain.Command
	done     chan struct{}
}

func (s *Subscription) Commands() <-chan domain.Command {
	return s.commands
}

func (s *Subscription) Close() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}

// Subscribe listens for commands addressed to sessionID, or to every session
// when sessionID is empty. The subscription is confirmed before returning.
func (b *CommandBus) Subscribe(ctx context.Context, sessionID domain.SessionID) (*Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	var pubsub *redis.PubSub
	if sessionID == "" {
		pubsub = b.client.PSubscribe(ctx, b.prefix+":*")
	} else {
		pubsub = b.client.Subscribe(ctx, b.Channel(sessionID))
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	sub := &Subscription{
		pubsub:   pubsub,
		commands: make(chan domain.Command, publishQueueSize),
		done:     make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.commands)

		for msg := range pubsub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warnw("failed to unmarshal command",
					"error", err,
					"channel", msg.Channel,
				)
				continue
			}
			select {
			case sub.commands <- env.Command:
			default:
				b.logger.Warnw("subscriber slow, dropping command",
					"session_id", env.Command.SessionID,
				)
			}
		}
	}()

	return sub, nil
}
