// Package archive runs the archive actor: a single goroutine that owns the
// open WARC encoder, rotates it on size and commits finished archives.
//
// Producers talk to the actor only through a Sink. The hand-off is
// unbuffered, so a Write returns once the actor has taken the record and at
// most one record is in flight between producer and encoder.
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/warc-archiver/internal/domain"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/worker"
)

// ErrChannelClosed is returned by a Sink whose actor has terminated or is
// terminating.
var ErrChannelClosed = errors.New("archive channel closed")

// Sink is the producer handle of an archive actor. It is safe for concurrent use.
type Sink struct {
	msgs  chan<- message
	done  <-chan struct{}
	actor *actor
}

// Start spawns an archive actor committing through committer and returns its sink.
func Start(committer Committer, opts ...Option) (*Sink, error) {
	if committer == nil {
		return nil, errors.New("committer is nil")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	a := &actor{
		opts:      o,
		committer: committer,
		pool:      o.pool,
		log:       o.logger,
		msgs:      make(chan message),
		done:      make(chan struct{}),
		slots:     make(chan struct{}, o.maxPending),
	}

	if a.pool == nil {
		pool, err := worker.NewPool(worker.Config{PoolSize: 1}, o.logger)
		if err != nil {
			return nil, fmt.Errorf("create encode pool: %w", err)
		}
		if err = pool.Start(); err != nil {
			return nil, fmt.Errorf("start encode pool: %w", err)
		}
		a.pool = pool
		a.ownsPool = true
	}

	a.writer = a.newWriter()
	a.state.Store(int32(StateAccumulating))

	go a.run()

	return &Sink{msgs: a.msgs, done: a.done, actor: a}, nil
}

// Write hands datum to the actor, blocking until the actor takes it.
// Encoding failures are handled by the actor and never reported here.
func (s *Sink) Write(ctx context.Context, datum domain.CrawlDatum) error {
	return s.send(ctx, message{datum: datum})
}

// Finish asks the actor to commit what it holds and terminate, and waits
// until it has. Cancelling ctx stops the wait, not the shutdown.
func (s *Sink) Finish(ctx context.Context) error {
	if err := s.send(ctx, message{finish: true}); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) send(ctx context.Context, msg message) error {
	select {
	case <-s.done:
		return ErrChannelClosed
	default:
	}

	select {
	case s.msgs <- msg:
		return nil
	case <-s.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the actor has terminated.
func (s *Sink) Done() <-chan struct{} {
	return s.done
}

// State returns the actor's current state.
func (s *Sink) State() State {
	return State(s.actor.state.Load())
}

// Stats returns a snapshot of the actor's counters.
func (s *Sink) Stats() Stats {
	return s.actor.stats()
}
