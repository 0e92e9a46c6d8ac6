package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/cursorrunner/cursor-runner/internal/apierr"
)

func TestMemoryStoreCreateGetAppend(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	rec, err := store.Create(ctx, "agent-1", map[string]any{"k": "v"}, "api")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Create returned empty id")
	}
	if len(rec.Messages) != 0 {
		t.Fatalf("new record has %d messages, want 0", len(rec.Messages))
	}

	if appendErr := store.Append(ctx, rec.ID, Message{Role: RoleUser, Content: "hello"}); appendErr != nil {
		t.Fatalf("Append: %v", appendErr)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Fatalf("Get after append = %+v", got)
	}
	if got.Messages[0].ID == "" {
		t.Fatal("appended message has no generated id")
	}

	last, err := store.LastConversationID(ctx, "api")
	if err != nil {
		t.Fatalf("LastConversationID: %v", err)
	}
	if last != rec.ID {
		t.Fatalf("LastConversationID = %q, want %q", last, rec.ID)
	}
}

func TestMemoryStoreAppendNotFound(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	err := store.Append(context.Background(), "does-not-exist", Message{Role: RoleUser, Content: "x"})
	if err == nil || err.Kind != apierr.NotFound {
		t.Fatalf("Append on missing id = %v, want NotFound", err)
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	_, err := store.Get(context.Background(), "does-not-exist")
	if err == nil || err.Kind != apierr.NotFound {
		t.Fatalf("Get on missing id = %v, want NotFound", err)
	}
}

func TestMemoryStoreListValidation(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	cases := []ListFilter{
		{Limit: 0, Offset: 0},
		{Limit: 10, Offset: -1},
		{Limit: 10, Offset: 0, SortBy: "bogus"},
		{Limit: 10, Offset: 0, SortOrder: "bogus"},
	}
	for _, f := range cases {
		if _, err := store.List(ctx, f); err == nil || err.Kind != apierr.InvalidArgument {
			t.Errorf("List(%+v) = %v, want InvalidArgument", f, err)
		}
	}
}

func TestMemoryStoreListPaginationAndSort(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := store.Create(ctx, "", nil, "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, rec.ID)
		time.Sleep(time.Millisecond)
	}

	res, err := store.List(ctx, ListFilter{Limit: 2, Offset: 0, SortBy: SortCreatedAt, SortOrder: Asc})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 5 {
		t.Fatalf("Total = %d, want 5", res.Total)
	}
	if len(res.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(res.Items))
	}
	if res.Items[0].ID != ids[0] || res.Items[1].ID != ids[1] {
		t.Fatalf("ascending order not respected: got %s,%s want %s,%s",
			res.Items[0].ID, res.Items[1].ID, ids[0], ids[1])
	}
}

func TestMemoryStoreUpdateLastAccessed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	rec, err := store.Create(ctx, "", nil, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := rec.LastAccessedAt

	time.Sleep(5 * time.Millisecond)
	if err := store.UpdateLastAccessed(ctx, rec.ID); err != nil {
		t.Fatalf("UpdateLastAccessed: %v", err)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.LastAccessedAt.After(before) {
		t.Fatalf("LastAccessedAt not advanced: before=%v after=%v", before, got.LastAccessedAt)
	}
}

func TestMemoryStoreConcurrentAppendSameID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	rec, err := store.Create(ctx, "", nil, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 50
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_ = store.Append(ctx, rec.ID, Message{Role: RoleUser, Content: "msg"})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != n {
		t.Fatalf("len(Messages) = %d, want %d (lost writes under concurrent append)", len(got.Messages), n)
	}
}
