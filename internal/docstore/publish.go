package docstore

import (
	"context"
	"log"
)

// PublishingStore decorates a Store so every acknowledged write announces the
// changed collection on the feed. Only the written collection is announced: an
// answer write never notifies the parent question collection, which keeps
// answer counts of unselected questions lazy.
type PublishingStore struct {
	store Store
	feed  ChangeFeed
}

func NewPublishingStore(store Store, feed ChangeFeed) *PublishingStore {
	return &PublishingStore{store: store, feed: feed}
}

func (s *PublishingStore) Create(ctx context.Context, path string, fields map[string]string) (Document, error) {
	doc, err := s.store.Create(ctx, path, fields)
	if err != nil {
		return Document{}, err
	}
	s.publish(ctx, path)
	return doc, nil
}

func (s *PublishingStore) Update(ctx context.Context, path, id string, fields map[string]string) error {
	if err := s.store.Update(ctx, path, id, fields); err != nil {
		return err
	}
	s.publish(ctx, path)
	return nil
}

func (s *PublishingStore) Delete(ctx context.Context, path, id string) error {
	if err := s.store.Delete(ctx, path, id); err != nil {
		return err
	}
	s.publish(ctx, path)
	return nil
}

func (s *PublishingStore) ReadAll(ctx context.Context, path string, order Order) ([]Document, error) {
	return s.store.ReadAll(ctx, path, order)
}

// publish failures are logged, not returned: the write already succeeded and
// readers converge on the next change.
func (s *PublishingStore) publish(ctx context.Context, path string) {
	if err := s.feed.Publish(ctx, path); err != nil {
		log.Printf("docstore: publish change for %s: %v", path, err)
	}
}
