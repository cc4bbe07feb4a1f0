// internal/app/features/activity/export.go
package activity

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ServeExport handles GET /api/sessions/{id}/activity/export.csv.
func (h *Handler) ServeExport(w http.ResponseWriter, r *http.Request) {
	entries, sessionID, ok := h.load(w, r)
	if !ok {
		return
	}

	filename := fmt.Sprintf("activity_%s.csv", sessionID)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(filename)))

	// UTF-8 BOM for Excel
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		h.Log.Error("CSV write failed (BOM)", zap.Error(err))
		return
	}

	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	defer cw.Flush()

	if err := cw.Write([]string{"timestamp", "event_type", "actor_id", "participant_id", "details"}); err != nil {
		h.Log.Error("CSV write failed (header)", zap.Error(err))
		return
	}

	for _, e := range entries {
		participantID := ""
		if e.ParticipantID != nil {
			participantID = e.ParticipantID.Hex()
		}
		details := ""
		if len(e.EventData) > 0 {
			if b, err := json.Marshal(e.EventData); err == nil {
				details = string(b)
			}
		}
		if err := cw.Write([]string{
			e.CreatedAt.Format(time.RFC3339),
			e.EventType,
			sanitizeCSVField(e.ActorID),
			participantID,
			sanitizeCSVField(details),
		}); err != nil {
			h.Log.Error("CSV write failed (row)", zap.Error(err))
			return
		}
	}

	h.Log.Info("activity CSV exported", zap.String("session_id", sessionID), zap.Int("rows", len(entries)))
}

// sanitizeCSVField prevents formula injection when the file is opened in a
// spreadsheet.
func sanitizeCSVField(s string) string {
	if len(s) == 0 {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@':
		return "'" + s
	}
	return s
}
