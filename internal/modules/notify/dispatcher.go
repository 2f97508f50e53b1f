// README: Dispatcher queues notifications and delivers them from a fixed worker pool.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tgtaxi/internal/metrics"
	"tgtaxi/internal/types"
)

type Options struct {
	QueueSize  int
	Workers    int
	RetryDelay time.Duration
	// SendTimeout bounds one delivery attempt.
	SendTimeout time.Duration
}

type job struct {
	msg     Message
	attempt int
}

// Dispatcher never blocks its callers: when the queue is full the message is dropped and logged.
// A failed delivery is retried once after RetryDelay; the second failure is only logged.
type Dispatcher struct {
	sink  Sink
	opts  Options
	queue chan job
	log   *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(sink Sink, opts Options, log *zap.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{sink: sink, opts: opts, queue: make(chan job, opts.QueueSize), log: log}
}

// Start launches the workers. They exit when ctx is done or Stop drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

// Stop rejects new messages and lets the workers drain the queue. Pending retries are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.queue)
	d.wg.Wait()
}

// Notify enqueues m and reports whether it was accepted.
func (d *Dispatcher) Notify(m Message) bool {
	if m.Recipient == "" || m.Text == "" {
		return false
	}
	return d.enqueue(job{msg: m})
}

// Broadcast enqueues one message per recipient and returns how many were queued.
func (d *Dispatcher) Broadcast(recipients []types.ID, text string) int {
	n := 0
	for _, r := range recipients {
		if d.Notify(Message{Recipient: r, Text: text, OpenApp: true}) {
			n++
		}
	}
	return n
}

func (d *Dispatcher) enqueue(j job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}
	select {
	case d.queue <- j:
		return true
	default:
		metrics.RecordNotification(outcomeDropped)
		d.log.Warn("notification queue full, dropping message", zap.String("recipient", j.msg.Recipient.String()))
		return false
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, j)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	err := d.sink.Send(sendCtx, j.msg)
	cancel()
	if err == nil {
		metrics.RecordNotification(outcomeSent)
		return
	}
	if j.attempt > 0 {
		metrics.RecordNotification(outcomeFailed)
		d.log.Warn("notification failed", zap.String("recipient", j.msg.Recipient.String()), zap.Error(err))
		return
	}

	metrics.RecordNotification(outcomeRetried)
	d.log.Info("notification failed, retrying", zap.String("recipient", j.msg.Recipient.String()), zap.Error(err))
	go func() {
		t := time.NewTimer(d.opts.RetryDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		d.enqueue(job{msg: j.msg, attempt: j.attempt + 1})
	}()
}
