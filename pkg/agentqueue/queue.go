// Package agentqueue is the durable hand-off between the executor and the
// remote cluster agent. Actions are published to a JetStream stream the
// agent consumes; the agent reports results on a second subject the
// executor correlates back by action ID.
package agentqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/config"
	"github.com/spothive/spothive/pkg/domain"
)

// Queue owns the NATS connection and the actions stream.
type Queue struct {
	logger *zap.Logger
	cfg    config.NATSConfig

	nc *nats.Conn
	js nats.JetStreamContext

	wg sync.WaitGroup

	mu        sync.RWMutex
	published int64
	consumed  int64
}

// New connects and ensures the actions stream exists.
func New(logger *zap.Logger, cfg config.NATSConfig) (*Queue, error) {
	q := &Queue{logger: logger, cfg: cfg}

	if err := q.connect(); err != nil {
		return nil, err
	}
	if err := q.setupJetStream(); err != nil {
		q.nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) connect() error {
	opts := []nats.Option{
		nats.Name(q.cfg.Name),
		nats.Timeout(q.cfg.ConnectionTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(q.cfg.MaxReconnects),
		nats.ReconnectWait(q.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			q.logger.Error("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			q.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			q.logger.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(q.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	q.nc = nc
	return nil
}

func (q *Queue) setupJetStream() error {
	js, err := q.nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}
	q.js = js

	streamConfig := &nats.StreamConfig{
		Name:       q.cfg.ActionsStreamName,
		Subjects:   []string{q.cfg.ActionsSubject, q.cfg.ResultsSubject},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxAge:     q.cfg.MaxAge,
		Duplicates: q.cfg.DuplicateWindow,
		Replicas:   q.cfg.Replicas,
	}

	_, err = js.StreamInfo(q.cfg.ActionsStreamName)
	if err == nats.ErrStreamNotFound {
		if _, err := js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		q.logger.Info("Created JetStream stream", zap.String("name", q.cfg.ActionsStreamName))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if _, err := js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// Enqueue publishes one action durably. The action ID doubles as the
// JetStream message ID, so a retried publish inside the duplicate window
// cannot enqueue the action twice.
func (q *Queue) Enqueue(ctx context.Context, action domain.Action) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	_, err = q.js.Publish(q.cfg.ActionsSubject, data,
		nats.MsgId(action.ID),
		nats.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to publish action %s: %w", action.ID, err)
	}

	q.mu.Lock()
	q.published++
	q.mu.Unlock()

	q.logger.Debug("Enqueued agent action",
		zap.String("action_id", action.ID),
		zap.String("action_type", string(action.Type)),
		zap.String("target", action.Target),
	)
	return nil
}

// ConsumeResults pulls agent result reports and feeds them to handler until
// ctx ends. Malformed messages are terminated rather than redelivered.
func (q *Queue) ConsumeResults(ctx context.Context, handler func(domain.ActionResult)) error {
	sub, err := q.js.PullSubscribe(
		q.cfg.ResultsSubject,
		q.cfg.ConsumerName,
		nats.AckWait(q.cfg.AckWait),
		nats.MaxDeliver(q.cfg.MaxDeliver),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to results: %w", err)
	}

	q.wg.Add(1)
	go q.fetchResults(ctx, sub, handler)
	return nil
}

func (q *Queue) fetchResults(ctx context.Context, sub *nats.Subscription, handler func(domain.ActionResult)) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := sub.Fetch(q.cfg.BatchSize, nats.MaxWait(q.cfg.FetchTimeout))
		if err != nil {
			if err == nats.ErrTimeout || err == context.DeadlineExceeded {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			q.logger.Error("Failed to fetch results", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			var result domain.ActionResult
			if err := json.Unmarshal(msg.Data, &result); err != nil {
				q.logger.Error("Malformed agent result, terminating message", zap.Error(err))
				_ = msg.Term()
				continue
			}
			handler(result)
			if err := msg.Ack(); err != nil {
				q.logger.Error("Failed to ack result", zap.String("action_id", result.ActionID), zap.Error(err))
			}
			q.mu.Lock()
			q.consumed++
			q.mu.Unlock()
		}
	}
}

// Close drains the consumers and closes the connection.
func (q *Queue) Close() {
	q.wg.Wait()
	if q.nc != nil {
		q.nc.Close()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	q.logger.Info("Agent queue closed",
		zap.Int64("published", q.published),
		zap.Int64("consumed", q.consumed),
	)
}
