package domain

import (
	"strings"
	"time"
)

// MessageDirection distinguishes customer messages from agent replies.
type MessageDirection string

const (
	DirectionIncoming MessageDirection = "incoming"
	DirectionOutgoing MessageDirection = "outgoing"
)

// MessageStatus enumerates the delivery lifecycle of a message.
// Received and Sent are terminal: a message in either state is immutable.
type MessageStatus string

const (
	MessageReceived MessageStatus = "received"
	MessagePending  MessageStatus = "pending"
	MessageSent     MessageStatus = "sent"
	MessageFailed   MessageStatus = "failed"
)

// Terminal reports whether s is a terminal, immutable status.
func (s MessageStatus) Terminal() bool {
	return s == MessageReceived || s == MessageSent
}

// Message content length bounds, inclusive.
const (
	MinContentLength = 1
	MaxContentLength = 10_000
)

// ValidateContent enforces the content length bounds.
func ValidateContent(content string) error {
	if len(content) < MinContentLength {
		return Validationf("message content must not be empty")
	}
	if len(content) > MaxContentLength {
		return Validationf("message content exceeds %d characters", MaxContentLength)
	}
	return nil
}

// Message is a single unit of conversation content. Incoming messages are
// created received and immutable; outgoing messages start pending and become
// immutable once sent.
type Message struct {
	ID             string           `json:"id" db:"id"`
	ConversationID string           `json:"conversation_id" db:"conversation_id"`
	Direction      MessageDirection `json:"direction" db:"direction"`
	Status         MessageStatus    `json:"status" db:"status"`
	Content        string           `json:"content" db:"content"`
	AuthorID       string           `json:"author_id" db:"author_id"`
	IsImmutable    bool             `json:"is_immutable" db:"is_immutable"`
	RetryCount     int              `json:"retry_count" db:"retry_count"`
	// SourceID is the external message identifier (the email Message-ID for
	// email channels). Used for ingest dedup, unique per inbox.
	SourceID   *string    `json:"source_id,omitempty" db:"source_id"`
	ProviderID *string    `json:"provider_id,omitempty" db:"provider_id"`
	InboxID    string     `json:"inbox_id" db:"inbox_id"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// MaxAttachmentSize is the per-attachment size cap (25 MiB).
const MaxAttachmentSize = 25 << 20

// allowedAttachmentTypes is the content-type allow-list for attachments:
// PDF/Office, common images, common archives, JSON/XML/octet-stream.
var allowedAttachmentTypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {},
	"application/vnd.ms-powerpoint":                                             {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"image/png":                   {},
	"image/jpeg":                  {},
	"image/gif":                   {},
	"image/webp":                  {},
	"application/zip":             {},
	"application/gzip":            {},
	"application/x-tar":           {},
	"application/x-7z-compressed": {},
	"application/json":            {},
	"application/xml":             {},
	"text/xml":                    {},
	"text/plain":                  {},
	"text/csv":                    {},
	"application/octet-stream":    {},
}

// AttachmentTypeAllowed reports whether contentType is on the allow-list.
// Parameters (e.g. "; charset=utf-8") are ignored.
func AttachmentTypeAllowed(contentType string) bool {
	base := strings.TrimSpace(strings.ToLower(contentType))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	_, ok := allowedAttachmentTypes[base]
	return ok
}

// SanitizeFilename replaces path and shell-hostile characters with '_'.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
}

// MessageAttachment is a file captured with a message. Created atomically
// with message ingestion; deletion cascades to the blob store.
type MessageAttachment struct {
	ID          string    `json:"id" db:"id"`
	MessageID   string    `json:"message_id" db:"message_id"`
	Filename    string    `json:"filename" db:"filename"` // sanitized
	ContentType string    `json:"content_type" db:"content_type"`
	FileSize    int64     `json:"file_size" db:"file_size"`
	FileKey     string    `json:"file_key" db:"file_key"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
