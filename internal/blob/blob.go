// Package blob stores attachment bodies. Metadata lives in the relational
// store; this package only moves bytes, addressed by an opaque key.
package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

// Store is the attachment body port. Keys are generated by AttachmentKey
// and never interpreted by callers.
type Store interface {
	Put(ctx context.Context, key string, contentType string, body io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// AttachmentKey builds the storage key for a message attachment. The uuid
// segment keeps same-named files on one message from colliding.
func AttachmentKey(messageID, filename string) string {
	return fmt.Sprintf("messages/%s/%s_%s", messageID, uuid.New().String(), domain.SanitizeFilename(filename))
}
