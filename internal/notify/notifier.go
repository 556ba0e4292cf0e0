package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// Notifier writes durable notification rows and pushes them through the
// hub. Assignment notifications are produced here from bus events; mention
// notifications arrive from the message path, which already owns the
// durable write.
type Notifier struct {
	store store.Store
	hub   *Hub
}

// NewNotifier creates the notifier.
func NewNotifier(st store.Store, hub *Hub) *Notifier {
	return &Notifier{store: st, hub: hub}
}

// Attach subscribes the assignment hook to the bus.
func (n *Notifier) Attach(b *bus.Bus) {
	b.Subscribe("notifications", n.handleEvent, domain.EventConversationAssigned)
}

// handleEvent notifies the newly assigned user. Self-assignment produces no
// notification; team assignment carries no user to notify.
func (n *Notifier) handleEvent(ctx context.Context, evt domain.Event) {
	assignee, _ := evt.Payload["assignee_user_id"].(string)
	if assignee == "" || assignee == evt.ActorID {
		return
	}
	if evt.Conversation == nil {
		return
	}
	convID := evt.Conversation.ID
	actor := evt.ActorID
	row := &domain.Notification{
		ID:             uuid.New().String(),
		UserID:         assignee,
		Type:           domain.NotificationAssignment,
		ConversationID: &convID,
		ActorID:        &actor,
		CreatedAt:      time.Now().UTC(),
	}
	if err := n.store.CreateNotification(ctx, row); err != nil {
		logger.Error("create assignment notification failed", "user_id", assignee, "error", err)
		return
	}
	n.hub.Push(assignee, row)
}

// List returns a page of the user's notifications plus the full count.
func (n *Notifier) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]domain.Notification, int, error) {
	if limit <= 0 {
		limit = 50
	}
	return n.store.ListNotifications(ctx, userID, unreadOnly, limit, offset)
}

// MarkRead marks one notification read. Users can only touch their own.
func (n *Notifier) MarkRead(ctx context.Context, id, userID string) error {
	return n.store.MarkNotificationRead(ctx, id, userID)
}
