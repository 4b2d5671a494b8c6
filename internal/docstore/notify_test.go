package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestFeed(t *testing.T) (*RedisFeed, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	feed, err := NewRedisFeed("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis feed: %v", err)
	}
	return feed, s
}

func TestFeedDeliversNotification(t *testing.T) {
	feed, s := setupTestFeed(t)
	defer feed.Close()
	defer s.Close()

	ctx := context.Background()
	path := "boards/test/questions"

	notifications, cancel, err := feed.Subscribe(ctx, path)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if err := feed.Publish(ctx, path); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-notifications:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a notification")
	}
}

func TestFeedIsScopedToPath(t *testing.T) {
	feed, s := setupTestFeed(t)
	defer feed.Close()
	defer s.Close()

	ctx := context.Background()

	notifications, cancel, err := feed.Subscribe(ctx, "boards/test/questions/question_a/answers")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if err := feed.Publish(ctx, "boards/test/questions/question_b/answers"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-notifications:
		t.Fatalf("notification leaked across collection paths")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFeedCancelClosesChannel(t *testing.T) {
	feed, s := setupTestFeed(t)
	defer feed.Close()
	defer s.Close()

	notifications, cancel, err := feed.Subscribe(context.Background(), "boards/test/questions")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	cancel()

	select {
	case _, open := <-notifications:
		if open {
			t.Fatalf("expected channel to close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel did not close after cancel")
	}
}

func TestPublishingStoreAnnouncesWrites(t *testing.T) {
	feed, s := setupTestFeed(t)
	defer feed.Close()
	defer s.Close()

	ctx := context.Background()
	path := "boards/test/questions"
	store := NewPublishingStore(&stubStore{}, feed)

	notifications, cancel, err := feed.Subscribe(ctx, path)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if _, err := store.Create(ctx, path, map[string]string{FieldText: "What is X?"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	select {
	case <-notifications:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected create to announce the collection")
	}
}

type stubStore struct{}

func (s *stubStore) Create(_ context.Context, path string, fields map[string]string) (Document, error) {
	return Document{ID: "question_1", Path: path, Fields: fields, CreatedAt: Resolved(time.Now())}, nil
}

func (s *stubStore) Update(context.Context, string, string, map[string]string) error { return nil }
func (s *stubStore) Delete(context.Context, string, string) error                    { return nil }
func (s *stubStore) ReadAll(context.Context, string, Order) ([]Document, error) {
	return nil, nil
}
