package httpapi

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/go-chi/chi/v5"
)

// handleEvents upgrades to a websocket and forwards the project's message
// lifecycle events until the client disconnects. Delivery is best-effort;
// clients needing full state re-read the message listing.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.orch.GetProject(r.Context(), projectID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "project_id", projectID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events, cancel := s.orch.Events().Subscribe(projectID)
	defer cancel()

	ctx := r.Context()

	// Drain client frames so pings are answered and closure is noticed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
