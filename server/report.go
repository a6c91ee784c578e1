package server

import (
	"encoding/json"
	"io"
	"net/http"

	"content-security-bff/notify"
)

type reportInput struct {
	IP string `json:"ip"`
	UA string `json:"ua"`
}

// handleReport relays a visitor alert. It always answers 200; failures are
// carried in the body as success:false.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in reportInput
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInputSize)).Decode(&in); err != nil {
		s.logger.Warn("Report body not decodable",
			"request_id", requestID(r.Context()),
			"error", err)
		s.writeJSON(w, http.StatusOK, notify.Result{Success: false, Message: "decode body: " + err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, s.notifier.Report(r.Context(), in.IP, in.UA))
}
