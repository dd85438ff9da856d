package syncer

import (
	"context"
	"testing"

	"github.com/kalambet/chatmirror/internal/chat"
	"github.com/kalambet/chatmirror/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSyncAll_WithStore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	notArchived := false
	r := newFakeRemote()
	r.pages[InboxKey] = pagesOf("in", 3)
	r.folders = []chat.Folder{{ID: "7"}}
	// The folder repeats an inbox chat; the archive lists one of them with a
	// payload that claims it is not archived.
	r.pages[FolderKey("7")] = [][]chat.Record{makePage("in", 0, 1)}
	archived := makePage("in", 2, 1)
	archived[0].Archived = &notArchived
	r.pages[ArchiveKey] = [][]chat.Record{archived}

	e := NewEngine(r, store, store, 0)
	e.SetResultRecorder(store)
	shared := NewShared(e, nil, store)

	total, err := shared.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5 (duplicates counted per occurrence)", total)
	}
	if n, _ := store.CountChats(ctx); n != 3 {
		t.Errorf("stored chats = %d, want 3", n)
	}

	c, err := store.GetChat(ctx, archived[0].Key)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if !c.Archived {
		t.Error("archive source record not stored as archived")
	}

	states, err := store.ListSyncStates(ctx)
	if err != nil {
		t.Fatalf("ListSyncStates: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("sync states = %+v, want 3", states)
	}
	for _, st := range states {
		if st.Status != "ok" || st.LastSyncTime.IsZero() {
			t.Errorf("state %s = %+v", st.SourceKey, st)
		}
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Total != 5 || runs[0].FinishedAt.IsZero() {
		t.Errorf("runs = %+v", runs)
	}
}

func TestSyncSource_IdempotentWithStore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	r := newFakeRemote()
	r.pages[InboxKey] = pagesOf("in", 5, 5)
	e := NewEngine(r, store, store, 0)

	if _, err := e.SyncSource(ctx, InboxSource(r), nil); err != nil {
		t.Fatalf("first SyncSource: %v", err)
	}
	before, err := store.ListChats(ctx, storage.ChatFilter{})
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}

	if err := store.ResetSyncState(ctx, InboxKey); err != nil {
		t.Fatalf("ResetSyncState: %v", err)
	}
	if _, err := e.SyncSource(ctx, InboxSource(r), nil); err != nil {
		t.Fatalf("second SyncSource: %v", err)
	}
	after, err := store.ListChats(ctx, storage.ChatFilter{})
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}

	if len(before) != 10 || len(after) != 10 {
		t.Fatalf("chats before/after = %d/%d, want 10/10", len(before), len(after))
	}
	for i := range before {
		if before[i].Key != after[i].Key || !before[i].LastActivity.Equal(after[i].LastActivity) {
			t.Errorf("chat %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestShared_SyncKey(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	r := newFakeRemote()
	r.pages[FolderKey("9")] = pagesOf("f", 4)
	shared := NewShared(NewEngine(r, store, store, 0), nil, nil)

	n, err := shared.SyncKey(ctx, "folder_9")
	if err != nil {
		t.Fatalf("SyncKey: %v", err)
	}
	if n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
	if _, err := shared.SyncKey(ctx, "bogus"); err == nil {
		t.Error("expected error for unknown source")
	}
	if _, ok, _ := store.GetLastSyncTime(ctx, "folder_9"); !ok {
		t.Error("watermark for folder_9 not stored")
	}
}
