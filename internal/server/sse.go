package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonathan/job-pilot/internal/runner"
)

// SSEWriter helps write Server-Sent Events.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event.
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event.
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent("error", map[string]string{"error": message}) //nolint:errcheck
}

// WriteComplete sends the final status of a run.
func (s *SSEWriter) WriteComplete(st runner.Status) {
	s.WriteEvent("complete", st) //nolint:errcheck
}

// handleRunEvents streams the run status of a site: a "status" event whenever
// the state or a counter changes, then "complete" once the run has ended.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	site, err := siteParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	st, err := s.runs.Status(site)
	if err != nil {
		s.fail(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last string
	for {
		if !st.Running {
			sse.WriteComplete(st)
			return
		}
		if key := statusKey(st); key != last {
			if err := sse.WriteEvent("status", st); err != nil {
				return
			}
			last = key
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		if st, err = s.runs.Status(site); err != nil {
			sse.WriteError(err.Error())
			return
		}
	}
}

func statusKey(st runner.Status) string {
	res := st.Result
	return fmt.Sprintf("%s/%s/%d/%d/%d/%d", res.RunID, res.State, res.Submitted, res.Skipped, res.Evaluated, len(res.Messages))
}
