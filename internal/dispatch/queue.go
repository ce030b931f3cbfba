// Copyright (c) 2026 Team CRM Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dispatch holds the sequential dispatch queue and the dispatcher
// that executes routing decisions: forward, queue-for-later, auto-respond.
//
// Each queue instance is a strict FIFO with exactly one in-flight item at
// a time; bursts serialise rather than interleave. Ordering is guaranteed
// within one queue instance only.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

// Entry is one message plus its routing decision awaiting dispatch.
type Entry struct {
	ID        string
	Message   *models.NormalizedMessage
	Decision  models.RoutingDecision
	Recipient *models.AssistantRecord

	// Raw is kept so an unroutable entry can be parked with its full
	// original payload.
	Raw models.InboundEmail

	EnqueuedAt time.Time
}

// Processor consumes entries popped off the queue. Process must contain
// its own failures; the queue never retries.
type Processor interface {
	Process(ctx context.Context, e Entry)
}

const defaultCapacity = 1024

// Queue is a bounded in-process FIFO with a timer-driven single consumer.
type Queue struct {
	name     string
	entries  chan Entry
	proc     Processor
	interval time.Duration
	timeout  time.Duration

	// processing guards against a poll tick starting a second pass
	// while one is in flight.
	mu         sync.Mutex
	processing bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a dispatch queue. interval is the consumer poll
// period; timeout bounds each item's dispatch.
func NewQueue(name string, proc Processor, interval, timeout time.Duration) *Queue {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Queue{
		name:     name,
		entries:  make(chan Entry, defaultCapacity),
		proc:     proc,
		interval: interval,
		timeout:  timeout,
	}
}

// Enqueue appends an entry. Returns an error when the queue is saturated
// so the caller can park the message instead of losing it.
func (q *Queue) Enqueue(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}

	select {
	case q.entries <- e:
		slog.Debug("entry enqueued",
			"queue", q.name,
			"entry", e.ID,
			"message_id", e.Message.MessageID,
		)
		return nil
	default:
		return fmt.Errorf("dispatch queue %s is full", q.name)
	}
}

// Len reports how many entries are waiting.
func (q *Queue) Len() int { return len(q.entries) }

// Start launches the consumer loop. It polls on a fixed interval and
// drains all waiting entries strictly one at a time.
func (q *Queue) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				// Drain what's left so accepted messages still reach a
				// terminal state on shutdown.
				q.drain(context.Background())
				return
			case <-ticker.C:
				q.drain(loopCtx)
			}
		}
	}()

	slog.Info("dispatch queue started",
		"queue", q.name,
		"poll_interval", q.interval,
		"item_timeout", q.timeout,
	)
}

// Stop shuts the consumer down, draining pending entries first.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	slog.Info("dispatch queue stopped", "queue", q.name)
}

// drain pops and processes queued entries one at a time. The processing
// guard makes a concurrent pass a no-op rather than an interleaving.
func (q *Queue) drain(ctx context.Context) {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return
	}
	q.processing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	for {
		select {
		case e := <-q.entries:
			q.processOne(ctx, e)
		default:
			return
		}
	}
}

// processOne runs a single entry under the per-item deadline.
func (q *Queue) processOne(ctx context.Context, e Entry) {
	itemCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	start := time.Now()
	q.proc.Process(itemCtx, e)

	slog.Debug("entry dispatched",
		"queue", q.name,
		"entry", e.ID,
		"waited", start.Sub(e.EnqueuedAt).Round(time.Millisecond),
		"took", time.Since(start).Round(time.Millisecond),
	)
}
