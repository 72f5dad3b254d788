package server

import (
	"encoding/json"
	"net/http"

	"github.com/sw33tLie/chatscope/pkg/retrieval"
	"github.com/sw33tLie/chatscope/pkg/storage"
)

type messageJSON struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	Direction string `json:"direction"`
}

type messagesResponse struct {
	Status    string        `json:"status"` // ok | empty | invalid_date
	Date      string        `json:"date,omitempty"`
	Direction string        `json:"direction,omitempty"`
	Input     string        `json:"input,omitempty"`
	Messages  []messageJSON `json:"messages"`
}

type statsJSON struct {
	Date      string `json:"date"`
	Direction string `json:"direction"`
	Count     int    `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := q.Get("date")
	if date == "" {
		date = "today"
	}
	dir, err := storage.ParseDirection(q.Get("direction"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := retrieval.ListMessages(r.Context(), s.DB, date, dir, s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := messagesResponse{Direction: string(dir), Messages: []messageJSON{}}
	switch v := res.(type) {
	case retrieval.InvalidDate:
		resp.Status = "invalid_date"
		resp.Input = v.Input
		writeJSON(w, http.StatusBadRequest, resp)
		return
	case retrieval.Empty:
		resp.Status = "empty"
		resp.Date = v.Date
	case retrieval.QueryResult:
		resp.Status = "ok"
		resp.Date = v.Date
		for _, m := range v.Rows {
			resp.Messages = append(resp.Messages, messageJSON{ID: m.ID, Sender: m.Sender, Timestamp: m.Timestamp, Text: m.Text, Direction: string(m.Direction)})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.GetStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]statsJSON, 0, len(stats))
	for _, st := range stats {
		out = append(out, statsJSON{Date: st.Date, Direction: string(st.Direction), Count: st.Count})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.DB.CountTodayIncoming(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"incoming_today": n})
}
