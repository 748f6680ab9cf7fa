package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nano-banana/internal/genai"
	"nano-banana/internal/store"
)

const maxGenerateBody = 64 << 20

type generateRequest struct {
	Prompt string        `json:"prompt"`
	Images []genai.Image `json:"images"`
}

type generateResponse struct {
	Text    string        `json:"text"`
	Images  []genai.Image `json:"images"`
	Warning string        `json:"warning,omitempty"`
}

func statusForKind(kind genai.ErrorKind) int {
	switch kind {
	case genai.KindBusy:
		return http.StatusConflict
	case genai.KindInvalidCredential:
		return http.StatusUnauthorized
	case genai.KindAccessDenied:
		return http.StatusForbidden
	case genai.KindRateLimited:
		return http.StatusTooManyRequests
	case genai.KindTimeout:
		return http.StatusGatewayTimeout
	case genai.KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeKindError(w http.ResponseWriter, err error) {
	kind := genai.KindOf(err)
	writeJSON(w, statusForKind(kind), apiError{Error: err.Error(), Kind: string(kind)})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBody)

	var in generateRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.gen.Submit(r.Context(), in.Prompt, in.Images)
	if err != nil && genai.KindOf(err) != genai.KindStore {
		writeKindError(w, err)
		return
	}

	out := generateResponse{Text: result.Text, Images: result.Images}
	if out.Images == nil {
		out.Images = []genai.Image{}
	}
	if err != nil {
		out.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

type turnJSON struct {
	Role  genai.Role `json:"role"`
	Parts []partJSON `json:"parts"`
}

type partJSON struct {
	Text  string       `json:"text,omitempty"`
	Image *genai.Image `json:"image,omitempty"`
}

type conversationResponse struct {
	Model  string     `json:"model"`
	Driver string     `json:"driver"`
	State  string     `json:"state"`
	Turns  []turnJSON `json:"turns"`
}

func (s *Server) handleConversation(w http.ResponseWriter, _ *http.Request) {
	model := s.gen.Model()
	history := s.gen.History()

	turns := make([]turnJSON, 0, len(history))
	for _, t := range history {
		parts := make([]partJSON, 0, len(t.Parts))
		for _, p := range t.Parts {
			parts = append(parts, partJSON{Text: p.Text, Image: p.Image})
		}
		turns = append(turns, turnJSON{Role: t.Role, Parts: parts})
	}

	writeJSON(w, http.StatusOK, conversationResponse{
		Model:  model,
		Driver: string(s.gen.DriverFor(model)),
		State:  s.gen.State().String(),
		Turns:  turns,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.gen.Reset(); err != nil {
		writeKindError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.gen.Records(r.Context())
	if err != nil {
		s.storeFailure(w, "list records", err)
		return
	}
	if records == nil {
		records = []store.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleRecordImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok, err := s.gen.Record(r.Context(), id)
	if err != nil {
		s.storeFailure(w, "get record", err)
		return
	}
	if !ok || rec.ImageRef == "" {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}

	img, ok, err := s.gen.Image(r.Context(), rec.ImageRef)
	if err != nil {
		s.storeFailure(w, "get image", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		s.storeFailure(w, "decode image", err)
		return
	}

	w.Header().Set("content-type", img.MimeType)
	w.Header().Set("cache-control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.gen.DeleteRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.storeFailure(w, "delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearRecords(w http.ResponseWriter, r *http.Request) {
	if err := s.gen.ClearRecords(r.Context()); err != nil {
		s.storeFailure(w, "clear records", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) storeFailure(w http.ResponseWriter, op string, err error) {
	s.logger.Error("store operation failed", "op", op, "err", err)
	var gerr *genai.Error
	if errors.As(err, &gerr) {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: gerr.Message, Kind: string(gerr.Kind)})
		return
	}
	writeError(w, http.StatusInternalServerError, "storage failure")
}
