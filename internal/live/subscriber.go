// Package live materializes ordered local views of remote collections. A
// Subscriber owns at most one active subscription; every change notification
// triggers a full re-read and the materialized list is replaced wholesale.
package live

import (
	"context"
	"errors"
	"sync"

	"liveboard/api/internal/docstore"
)

type Reader interface {
	ReadAll(ctx context.Context, path string, order docstore.Order) ([]docstore.Document, error)
}

type Feed interface {
	Subscribe(ctx context.Context, path string) (<-chan struct{}, func(), error)
}

// Subscriber keeps one logical target subscribed at a time. Subscribing to a
// new target tears the previous subscription down first, so two snapshot
// streams never race for the same local slot.
type Subscriber struct {
	reader Reader
	feed   Feed

	mu      sync.Mutex
	current *subscription
}

func New(reader Reader, feed Feed) *Subscriber {
	return &Subscriber{reader: reader, feed: feed}
}

// Subscribe starts a live subscription to the collection at path. onSnapshot
// receives the full ordered contents on the initial read and after every
// change notification. onError is invoked at most once, when the subscription
// ends on a transport error; the last delivered snapshot stays valid and is
// not followed by an empty one.
func (s *Subscriber) Subscribe(ctx context.Context, path string, order docstore.Order, onSnapshot func([]docstore.Document), onError func(error)) error {
	// Teardown and standup happen under one lock so concurrent Subscribe
	// calls serialize: the loser tears the winner down rather than leaving an
	// orphaned subscription running.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.teardown()
		s.current = nil
	}

	notifications, cancelFeed, err := s.feed.Subscribe(ctx, path)
	if err != nil {
		return err
	}

	sub := &subscription{
		path:       path,
		order:      order,
		onSnapshot: onSnapshot,
		onError:    onError,
		cancelFeed: cancelFeed,
		stop:       make(chan struct{}),
	}
	s.current = sub

	go sub.run(ctx, s.reader, notifications)
	return nil
}

// Unsubscribe tears down the active subscription, if any. Snapshots from the
// torn-down subscription are discarded even if a re-read was already in
// flight: delivery is keyed to the subscription instance, not the Subscriber.
func (s *Subscriber) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.teardown()
		s.current = nil
	}
}

type subscription struct {
	path       string
	order      docstore.Order
	onSnapshot func([]docstore.Document)
	onError    func(error)
	cancelFeed func()
	stop       chan struct{}
	stopOnce   sync.Once

	mu      sync.Mutex
	stopped bool
}

func (sub *subscription) run(ctx context.Context, reader Reader, notifications <-chan struct{}) {
	if !sub.readAndDeliver(ctx, reader) {
		return
	}

	for {
		select {
		case <-sub.stop:
			return
		case <-ctx.Done():
			sub.fail(ctx.Err())
			return
		case _, open := <-notifications:
			if !open {
				sub.fail(errors.New("change feed closed"))
				return
			}
			if !sub.readAndDeliver(ctx, reader) {
				return
			}
		}
	}
}

func (sub *subscription) readAndDeliver(ctx context.Context, reader Reader) bool {
	docs, err := reader.ReadAll(ctx, sub.path, sub.order)
	if err != nil {
		sub.fail(err)
		return false
	}
	docstore.Sort(docs, sub.order)
	return sub.deliver(docs)
}

func (sub *subscription) deliver(docs []docstore.Document) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.stopped {
		return false
	}
	sub.onSnapshot(docs)
	return true
}

// fail ends the subscription. No error is reported after teardown: a late
// transport failure from an abandoned target is not the new target's problem.
func (sub *subscription) fail(err error) {
	sub.mu.Lock()
	if sub.stopped {
		sub.mu.Unlock()
		return
	}
	sub.stopped = true
	sub.mu.Unlock()

	sub.cancelFeed()
	if sub.onError != nil {
		sub.onError(err)
	}
}

func (sub *subscription) teardown() {
	sub.mu.Lock()
	sub.stopped = true
	sub.mu.Unlock()

	sub.stopOnce.Do(func() { close(sub.stop) })
	sub.cancelFeed()
}
