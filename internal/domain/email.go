package domain

import "time"

// EmailProcessingStatus enumerates the outcome of processing one inbound
// email.
type EmailProcessingStatus string

const (
	EmailProcessed EmailProcessingStatus = "success"
	EmailFailed    EmailProcessingStatus = "failed"
	EmailDuplicate EmailProcessingStatus = "duplicate"
)

// EmailProcessingLog is the auditable record of one ingest attempt. For
// every (inbox, Message-ID) pair there is at most one success row.
type EmailProcessingLog struct {
	ID             string                `json:"id" db:"id"`
	InboxID        string                `json:"inbox_id" db:"inbox_id"`
	MessageID      string                `json:"message_id" db:"message_id"` // RFC 5322 Message-ID
	Status         EmailProcessingStatus `json:"status" db:"status"`
	ConversationID *string               `json:"conversation_id,omitempty" db:"conversation_id"`
	ErrorMessage   *string               `json:"error_message,omitempty" db:"error_message"`
	ProcessedAt    time.Time             `json:"processed_at" db:"processed_at"`
}

// InboxConfig holds the transport configuration for an email inbox.
// Passwords are encrypted at rest with the configured encryption key.
type InboxConfig struct {
	InboxID             string `json:"inbox_id" db:"inbox_id"`
	IMAPHost            string `json:"imap_host" db:"imap_host"`
	IMAPPort            int    `json:"imap_port" db:"imap_port"`
	IMAPUsername        string `json:"imap_username" db:"imap_username"`
	IMAPPasswordEnc     string `json:"-" db:"imap_password_enc"`
	IMAPUseTLS          bool   `json:"imap_use_tls" db:"imap_use_tls"`
	Folder              string `json:"folder" db:"folder"` // default INBOX
	PollIntervalSeconds int    `json:"poll_interval_seconds" db:"poll_interval_seconds"`
	SMTPHost            string `json:"smtp_host" db:"smtp_host"`
	SMTPPort            int    `json:"smtp_port" db:"smtp_port"`
	SMTPUsername        string `json:"smtp_username" db:"smtp_username"`
	SMTPPasswordEnc     string `json:"-" db:"smtp_password_enc"`
	FromName            string `json:"from_name" db:"from_name"`
	FromAddress         string `json:"from_address" db:"from_address"`
	// LastPollAt and LastUID track the ingest cursor per inbox.
	LastPollAt *time.Time `json:"last_poll_at,omitempty" db:"last_poll_at"`
	LastUID    uint32     `json:"last_uid" db:"last_uid"`
}

// DefaultPollInterval is used when an inbox config does not set one.
const DefaultPollInterval = 30 * time.Second
