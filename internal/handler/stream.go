package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
)

// keepAliveInterval spaces comment frames that keep idle proxies from
// closing the stream.
const keepAliveInterval = 15 * time.Second

// handleStream sends every cart snapshot as a server-sent event, starting
// with the current one.
// GET /cart/stream
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, model.NewInternalError(fmt.Errorf("streaming unsupported")))
		return
	}

	sub := h.cart.Subscribe()
	defer sub.Cancel()
	metrics.SubscriberAdded()
	defer metrics.SubscriberRemoved()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(h.view(snap))
			if err != nil {
				h.logger.Error("encoding cart event", slog.String("error", err.Error()))
				continue
			}
			fmt.Fprintf(w, "event: cart\ndata: %s\n\n", data)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
