package notify_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/notify"
	"github.com/sgunadhya/oxidesk/internal/store/memory"
)

func assignmentNotification(id, userID string) *domain.Notification {
	conv := "conv-1"
	return &domain.Notification{
		ID:             id,
		UserID:         userID,
		Type:           domain.NotificationAssignment,
		ConversationID: &conv,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestHubFansOutToAllConnections(t *testing.T) {
	h := notify.NewHub()
	ch1, cancel1 := h.Subscribe("user-a")
	defer cancel1()
	ch2, cancel2 := h.Subscribe("user-a")
	defer cancel2()
	other, cancelOther := h.Subscribe("user-b")
	defer cancelOther()

	if h.Connections("user-a") != 2 {
		t.Fatalf("expected 2 connections, got %d", h.Connections("user-a"))
	}

	h.Push("user-a", assignmentNotification("n-1", "user-a"))

	for i, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case body := <-ch:
			var n domain.Notification
			if err := json.Unmarshal(body, &n); err != nil {
				t.Fatalf("conn %d: decode: %v", i, err)
			}
			if n.ID != "n-1" {
				t.Fatalf("conn %d: unexpected notification %s", i, n.ID)
			}
		default:
			t.Fatalf("conn %d: expected a queued notification", i)
		}
	}
	select {
	case <-other:
		t.Fatal("user-b must not receive user-a notifications")
	default:
	}
}

func TestHubDropsOldestOnFullQueue(t *testing.T) {
	h := notify.NewHub()
	ch, cancel := h.Subscribe("user-a")
	defer cancel()

	for i := 0; i < notify.QueueCap+3; i++ {
		h.Push("user-a", assignmentNotification("n", "user-a"))
	}
	if h.Dropped() != 3 {
		t.Fatalf("expected 3 drops, got %d", h.Dropped())
	}
	if len(ch) != notify.QueueCap {
		t.Fatalf("expected full queue of %d, got %d", notify.QueueCap, len(ch))
	}
}

func TestHubCancelRemovesConnection(t *testing.T) {
	h := notify.NewHub()
	_, cancel := h.Subscribe("user-a")
	cancel()
	if h.Connections("user-a") != 0 {
		t.Fatalf("expected 0 connections after cancel, got %d", h.Connections("user-a"))
	}
	// Pushing to a user with no connections is harmless.
	h.Push("user-a", assignmentNotification("n-1", "user-a"))
}

func TestNotifierCreatesAssignmentNotification(t *testing.T) {
	st := memory.New()
	h := notify.NewHub()
	n := notify.NewNotifier(st, h)
	b := bus.New()
	n.Attach(b)
	defer b.Close()

	ch, cancel := h.Subscribe("user-b")
	defer cancel()

	b.Publish(domain.Event{
		Type:         domain.EventConversationAssigned,
		OccurredAt:   time.Now().UTC(),
		Conversation: &domain.Conversation{ID: "conv-1"},
		ActorID:      "user-a",
		Payload:      map[string]any{"assignee_user_id": "user-b"},
	})

	select {
	case body := <-ch:
		var got domain.Notification
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode pushed notification: %v", err)
		}
		if got.Type != domain.NotificationAssignment || got.UserID != "user-b" {
			t.Fatalf("unexpected notification %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a pushed notification")
	}

	rows, total, err := n.List(context.Background(), "user-b", false, 0, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("expected one durable notification, got %d", total)
	}
	if rows[0].ConversationID == nil || *rows[0].ConversationID != "conv-1" {
		t.Fatalf("unexpected conversation ref %+v", rows[0])
	}

	if err := n.MarkRead(context.Background(), rows[0].ID, "user-b"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	_, unread, err := n.List(context.Background(), "user-b", true, 0, 0)
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if unread != 0 {
		t.Fatalf("expected 0 unread after mark read, got %d", unread)
	}
}

func TestNotifierSkipsSelfAssignment(t *testing.T) {
	st := memory.New()
	h := notify.NewHub()
	n := notify.NewNotifier(st, h)
	b := bus.New()
	n.Attach(b)

	b.Publish(domain.Event{
		Type:         domain.EventConversationAssigned,
		OccurredAt:   time.Now().UTC(),
		Conversation: &domain.Conversation{ID: "conv-1"},
		ActorID:      "user-a",
		Payload:      map[string]any{"assignee_user_id": "user-a"},
	})
	b.Close()

	_, total, err := n.List(context.Background(), "user-a", false, 0, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if total != 0 {
		t.Fatalf("self-assignment must not notify, got %d rows", total)
	}
}

func TestServeSSEStreamsNotifications(t *testing.T) {
	h := notify.NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeSSE(w, r, "user-a")
	}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/notifications/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Connections("user-a") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.Push("user-a", assignmentNotification("n-1", "user-a"))

	sc := bufio.NewScanner(resp.Body)
	var data string
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "data: ") {
			data = strings.TrimPrefix(sc.Text(), "data: ")
			break
		}
	}
	if data == "" {
		t.Fatal("expected a data frame")
	}
	var got domain.Notification
	if err := json.Unmarshal([]byte(data), &got); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if got.ID != "n-1" {
		t.Fatalf("unexpected notification %s", got.ID)
	}
}
