package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/scrypster/recall/internal/pipeline"
	"github.com/scrypster/recall/internal/tasks"
)

// captureRequest is the JSON body of every /capture endpoint. Which payload
// field must be set depends on the endpoint.
type captureRequest struct {
	Text     string         `json:"text"`
	URL      string         `json:"url"`
	Path     string         `json:"path"`
	Paths    []string       `json:"paths"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata"`
}

type captureResponse struct {
	Status     string `json:"status"`
	ID         string `json:"id"`
	Message    string `json:"message"`
	ExistingID string `json:"existing_id,omitempty"`
}

// captureKind binds an endpoint to its input type and background task.
type captureKind struct {
	inputType pipeline.InputType
	taskType  string
}

var captureKinds = map[string]captureKind{
	"text":  {pipeline.InputTextIdea, tasks.TaskProcessContent},
	"url":   {pipeline.InputArticle, tasks.TaskProcessContent},
	"photo": {pipeline.InputPhoto, tasks.TaskProcessContent},
	"voice": {pipeline.InputVoiceMemo, tasks.TaskProcessVoice},
	"pdf":   {pipeline.InputPDF, tasks.TaskProcessContent},
	"book":  {pipeline.InputBook, tasks.TaskProcessBook},
}

// handleCapture ingests one capture synchronously and enqueues its
// enrichment. Deduplicated inputs are acknowledged without enqueueing.
func (s *Server) handleCapture(kind string) http.HandlerFunc {
	ck := captureKinds[kind]
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req captureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		in := pipeline.Input{
			Type:     ck.inputType,
			Path:     req.Path,
			Paths:    req.Paths,
			URL:      req.URL,
			Text:     req.Text,
			Title:    req.Title,
			Metadata: req.Metadata,
		}
		result, err := s.ingest.Process(r.Context(), in)
		if err != nil {
			if errors.Is(err, pipeline.ErrInvalidInput) || errors.Is(err, pipeline.ErrNoPipeline) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Printf("server: capture %s failed: %v", kind, err)
			writeError(w, http.StatusInternalServerError, "capture failed")
			return
		}

		if result.Saved.Deduped {
			writeJSON(w, http.StatusOK, captureResponse{
				Status:     "deduped",
				ID:         result.Saved.ExistingUUID,
				ExistingID: result.Saved.ExistingUUID,
				Message:    "content already captured",
			})
			return
		}

		if _, err := s.queues.Enqueue(r.Context(), ck.taskType,
			tasks.ContentPayload{ContentUUID: result.Saved.UUID}); err != nil {
			// The record exists; the watcher or a manual reprocess can pick
			// it up later.
			log.Printf("server: failed to enqueue %s for %s: %v", ck.taskType, result.Saved.UUID, err)
		}

		writeJSON(w, http.StatusAccepted, captureResponse{
			Status:  "captured",
			ID:      result.Saved.UUID,
			Message: "queued for processing",
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("server: failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
