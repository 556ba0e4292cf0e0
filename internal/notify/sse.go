package notify

import (
	"fmt"
	"net/http"
	"time"
)

// KeepaliveInterval paces comment frames that keep idle connections open
// through proxies.
const KeepaliveInterval = 30 * time.Second

// ServeSSE streams the user's notifications as Server-Sent Events until the
// client disconnects. The caller resolves the user from the session before
// handing the request over.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, userID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel := h.Subscribe(userID)
	defer cancel()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case body := <-ch:
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", body)
			flusher.Flush()
		}
	}
}
