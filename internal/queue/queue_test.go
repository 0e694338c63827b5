package queue

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func sendRequest(id, body string) Request {
	return Request{
		ID:     id,
		URL:    "http://chat.example/api/chat/messages",
		Method: "POST",
		Header: map[string]string{"Content-Type": "application/json"},
		Body:   json.RawMessage(body),
	}
}

func openTestQueue(t *testing.T, dir string) *LevelQueue {
	t.Helper()
	q, err := OpenLevelQueue(dir)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q
}

func TestEnqueueListFIFO(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue"))
	defer q.Close()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(sendRequest(id, `{"content":"`+id+`"}`)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	all, err := q.ListAll()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].ID != want {
			t.Fatalf("order[%d] = %s, want %s", i, all[i].ID, want)
		}
	}
	if all[0].EnqueuedAt == 0 {
		t.Fatalf("EnqueuedAt not stamped")
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "queue")
	q := openTestQueue(t, dir)
	if err := q.Enqueue(sendRequest("first", `{"content":"1"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(sendRequest("second", `{"content":"2"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	q = openTestQueue(t, dir)
	defer q.Close()
	if err := q.Enqueue(sendRequest("third", `{"content":"3"}`)); err != nil {
		t.Fatalf("enqueue after reopen: %v", err)
	}
	all, err := q.ListAll()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := make([]string, 0, len(all))
	for _, req := range all {
		ids = append(ids, req.ID)
	}
	if len(ids) != 3 || ids[0] != "first" || ids[1] != "second" || ids[2] != "third" {
		t.Fatalf("order after reopen = %v", ids)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue"))
	defer q.Close()

	if err := q.Enqueue(sendRequest("only", `{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Remove("only"); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := q.Remove("only"); err != nil {
		t.Fatalf("second remove must be a no-op, got %v", err)
	}
	depth, err := q.Depth()
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("depth = %d, want 0", depth)
	}
}

func TestIncrementAttemptPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "queue")
	q := openTestQueue(t, dir)
	if err := q.Enqueue(sendRequest("retry-me", `{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.IncrementAttempt("retry-me"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := q.IncrementAttempt("retry-me"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := q.IncrementAttempt("not-there"); err != nil {
		t.Fatalf("increment on missing id must be a no-op, got %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	q = openTestQueue(t, dir)
	defer q.Close()
	all, err := q.ListAll()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Attempts != 2 {
		t.Fatalf("attempts = %+v, want one record with 2 attempts", all)
	}
}

func TestPurgeBefore(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue"))
	defer q.Close()

	old := sendRequest("old", `{}`)
	old.EnqueuedAt = time.Now().Add(-time.Hour).UnixMilli()
	if err := q.Enqueue(old); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(sendRequest("fresh", `{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	purged, err := q.Purge(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	all, err := q.ListAll()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].ID != "fresh" {
		t.Fatalf("remaining = %+v", all)
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue"))
	defer q.Close()

	err := q.Enqueue(Request{URL: "http://chat.example", Method: "POST"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}
