package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"catalog-showcase/internal/domain"
	"catalog-showcase/internal/middleware"

	"go.uber.org/zap"
)

// KeepAliveInterval is how often an idle event stream sends a comment line
var KeepAliveInterval = 25 * time.Second

// StreamCatalogs pushes the catalog collection as server-sent events: one
// snapshot on connect, then one "catalogs" event per change. A slow client
// only ever receives the latest collection. The repository subscription is
// released when the client goes away.
func (h *CatalogHandler) StreamCatalogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.RespondWithError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// streams outlive the server's write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("Could not clear write deadline for event stream", zap.Error(err))
	}

	updates := make(chan []domain.Catalog, 1)
	unsubscribe := h.service.Subscribe(func(catalogs []domain.Catalog) {
		for {
			select {
			case updates <- catalogs:
				return
			default:
			}
			// drop the stale pending snapshot
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	seq := 0
	send := func(catalogs []domain.Catalog) bool {
		payload, err := json.Marshal(catalogs)
		if err != nil {
			h.logger.Error("Failed to encode catalog event", zap.Error(err))
			return false
		}
		seq++
		if _, err := fmt.Fprintf(w, "id: %d\nevent: catalogs\ndata: %s\n\n", seq, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(h.service.ListCatalogs()) {
		return
	}

	h.logger.Debug("Catalog event stream opened", zap.String("remote_addr", r.RemoteAddr))
	defer h.logger.Debug("Catalog event stream closed", zap.String("remote_addr", r.RemoteAddr))

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case catalogs := <-updates:
			if !send(catalogs) {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
