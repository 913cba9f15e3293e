package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/comigor/groqchat/internal/conversation"
	"github.com/comigor/groqchat/internal/logger"
)

const (
	inactiveDetail = "The chat session has ended. Please start a new session."
	notFoundDetail = "Conversation not found"

	maxBodyBytes = 1 << 20
)

// ChatService is what the handlers need from the conversation layer.
type ChatService interface {
	HandleChat(ctx context.Context, req conversation.ChatRequest) (*conversation.ChatResponse, error)
	EndSession(ctx context.Context, id string) error
	History(ctx context.Context, id string) (conversation.Snapshot, error)
}

type ChatHandler struct {
	svc ChatService
}

func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// chatBody mirrors the POST /chat payload. Pointers distinguish missing fields.
type chatBody struct {
	Message        *string `json:"message"`
	Role           *string `json:"role"`
	ConversationID *string `json:"conversation_id"`
}

// FieldError is one entry of a 422 validation response.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type detailResponse struct {
	Detail any `json:"detail"`
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	body, fieldErrs := decodeChatBody(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, detailResponse{Detail: fieldErrs})
		return
	}

	req := conversation.ChatRequest{
		ConversationID: *body.ConversationID,
		Message:        *body.Message,
	}
	if body.Role != nil {
		req.Role = *body.Role
	}

	resp, err := h.svc.HandleChat(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.History(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *ChatHandler) End(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := h.svc.EndSession(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "active": false})
}

func decodeChatBody(rd io.Reader) (chatBody, []FieldError) {
	var body chatBody
	if err := json.NewDecoder(rd).Decode(&body); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return body, []FieldError{{Loc: []string{"body", typeErr.Field}, Msg: "Input should be a valid string", Type: "string_type"}}
		}
		return body, []FieldError{{Loc: []string{"body"}, Msg: "JSON decode error", Type: "json_invalid"}}
	}

	var errs []FieldError
	if body.Message == nil {
		errs = append(errs, missing("message"))
	}
	if body.ConversationID == nil {
		errs = append(errs, missing("conversation_id"))
	}
	return body, errs
}

func missing(field string) FieldError {
	return FieldError{Loc: []string{"body", field}, Msg: "Field required", Type: "missing"}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		perr *conversation.ProviderError
		ierr *conversation.InternalError
	)
	switch {
	case errors.Is(err, conversation.ErrInactiveSession):
		writeJSON(w, http.StatusBadRequest, detailResponse{Detail: inactiveDetail})
	case errors.Is(err, conversation.ErrConversationNotFound):
		writeJSON(w, http.StatusNotFound, detailResponse{Detail: notFoundDetail})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusInternalServerError, detailResponse{Detail: perr.Error()})
	case errors.As(err, &ierr):
		writeJSON(w, http.StatusInternalServerError, detailResponse{Detail: ierr.Error()})
	default:
		logger.L.Error("unhandled service error", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, detailResponse{Detail: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
