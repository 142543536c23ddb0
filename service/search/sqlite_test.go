package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"PPHub/module/message"
)

func newSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLite(filepath.Join(t.TempDir(), "search.db"), "chat_messages")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSQLiteIndexAndSearch(t *testing.T) {
	b := newSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	msgs := []message.Message{
		{ID: "1", ChannelID: "general", UserID: "a", Content: "hi there", Type: "text", CreatedAt: base, UpdatedAt: base},
		{ID: "2", ChannelID: "random", UserID: "b", Content: "say hi", Type: "text", CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second)},
		{ID: "3", ChannelID: "general", UserID: "a", Content: "unrelated", Type: "text", CreatedAt: base.Add(2 * time.Second), UpdatedAt: base.Add(2 * time.Second),
			Metadata: map[string]any{"tag": "release"}},
	}
	for _, m := range msgs {
		if err := b.Index(ctx, m); err != nil {
			t.Fatalf("Index %s: %v", m.ID, err)
		}
	}
	// 幂等
	if err := b.Index(ctx, msgs[0]); err != nil {
		t.Fatalf("re-Index: %v", err)
	}

	got, err := b.Search(ctx, Query{Term: "HI"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "1" {
		t.Fatalf("search hi = %+v", got)
	}

	got, err = b.Search(ctx, Query{Term: "hi", ChannelID: "general"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "1" || !got[0].CreatedAt.Equal(base) {
		t.Fatalf("scoped search = %+v", got)
	}

	got, err = b.Search(ctx, Query{Term: "release"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "3" || got[0].Metadata["tag"] != "release" {
		t.Fatalf("metadata search = %+v", got)
	}

	got, err = b.Search(ctx, Query{Term: "hi", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("limit ignored: %d", len(got))
	}

	if err := b.Ping(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteThroughBridge(t *testing.T) {
	b := newSQLite(t)
	pool := NewPool("direct", 1, 8, time.Second, b.Index)
	br := NewBridge(b, WithForwarder(pool))

	now := time.Now()
	br.ForwardIndex(message.Message{ID: "x1", ChannelID: "general", UserID: "a", Content: "hi", Type: "text", CreatedAt: now, UpdatedAt: now})
	pool.Close()

	got := br.Query(context.Background(), "hi", "")
	if len(got) != 1 || got[0].ID != "x1" {
		t.Fatalf("bridge query = %+v", got)
	}
	if h := br.Health(context.Background()); !h.OK() {
		t.Fatalf("health = %+v", h)
	}
}
