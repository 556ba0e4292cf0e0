// Package contact resolves sender addresses to contacts within an inbox,
// auto-provisioning the user, contact, and channel for first-time senders.
package contact

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// Service resolves and provisions contacts.
type Service struct {
	store store.Store
}

// New creates the contact service.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// Get returns one contact.
func (s *Service) Get(ctx context.Context, id string) (*domain.Contact, error) {
	return s.store.GetContact(ctx, id)
}

// Resolve maps a sender address within an inbox to a contact. Unknown
// senders are auto-provisioned: user, contact, and channel in one
// transaction. displayName seeds the contact's first name when present.
func (s *Service) Resolve(ctx context.Context, inboxID, email, displayName string) (*domain.Contact, error) {
	folded := domain.FoldEmail(email)
	if folded == "" {
		return nil, domain.Validationf("sender email is required")
	}
	if c, err := s.store.GetContactByChannel(ctx, inboxID, folded); err == nil {
		return c, nil
	} else if !domain.IsKind(err, domain.KindNotFound) {
		return nil, err
	}

	// A contact known in another inbox gets a new channel here; a brand-new
	// sender gets the full user+contact+channel set.
	if u, err := s.store.GetUserByEmail(ctx, folded, domain.UserTypeContact); err == nil {
		c, err := s.store.GetContactByUserID(ctx, u.ID)
		if err == nil {
			ch := &domain.ContactChannel{
				ID: uuid.New().String(), ContactID: c.ID, InboxID: inboxID, Email: folded,
			}
			if err := s.store.CreateContactChannel(ctx, ch); err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	now := time.Now().UTC()
	u := &domain.User{ID: uuid.New().String(), Email: folded, Type: domain.UserTypeContact, CreatedAt: now, UpdatedAt: now}
	c := &domain.Contact{ID: uuid.New().String(), UserID: u.ID}
	if name := strings.TrimSpace(displayName); name != "" {
		c.FirstName = &name
	}
	ch := &domain.ContactChannel{ID: uuid.New().String(), ContactID: c.ID, InboxID: inboxID, Email: folded}
	if err := s.store.CreateContactWithChannel(ctx, u, c, ch); err != nil {
		return nil, err
	}
	logger.Info("contact auto-provisioned", "inbox_id", inboxID, "contact_id", c.ID)
	return c, nil
}
