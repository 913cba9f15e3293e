package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/groqchat/internal/conversation"
)

const testOrigin = "http://localhost:5173"

type stubProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]openai.ChatCompletionMessage
}

func (s *stubProvider) Complete(_ context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]openai.ChatCompletionMessage(nil), messages...))
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func newTestRouter(p *stubProvider) (http.Handler, *conversation.Service) {
	svc := conversation.NewService(conversation.NewStore("You are a helpful AI assistant."), p)
	return New(svc, testOrigin), svc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestChat_Success(t *testing.T) {
	p := &stubProvider{reply: "Hi there"}
	h, svc := newTestRouter(p)

	rr := do(t, h, http.MethodPost, "/chat", `{"message": "Hello", "conversation_id": "abc"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	got := decode[map[string]string](t, rr)
	require.Equal(t, map[string]string{"response": "Hi there", "conversation_id": "abc"}, got)

	snap, err := svc.History(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, snap.Turns, 3)
	require.Equal(t, "Hello", snap.Turns[1].Content)
	require.Equal(t, "Hi there", snap.Turns[2].Content)
}

func TestChat_TrailingSlash(t *testing.T) {
	h, _ := newTestRouter(&stubProvider{reply: "ok"})

	rr := do(t, h, http.MethodPost, "/chat/", `{"message": "Hello", "conversation_id": "abc"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestChat_ExplicitRole(t *testing.T) {
	p := &stubProvider{reply: "ok"}
	h, _ := newTestRouter(p)

	rr := do(t, h, http.MethodPost, "/chat", `{"message": "Hello", "role": "narrator", "conversation_id": "abc"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "narrator", p.calls[0][1].Role)

	rr = do(t, h, http.MethodPost, "/chat", `{"message": "Hello", "role": null, "conversation_id": "xyz"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, openai.ChatMessageRoleUser, p.calls[1][1].Role)
}

func TestChat_SecondCallSeesHistory(t *testing.T) {
	p := &stubProvider{reply: "Hi there"}
	h, _ := newTestRouter(p)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/chat", `{"message": "Hello", "conversation_id": "abc"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/chat", `{"message": "Again", "conversation_id": "abc"}`).Code)

	require.Len(t, p.calls, 2)
	require.GreaterOrEqual(t, len(p.calls[1]), 4)
}

func TestChat_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantLoc [][]string
		typ     string
	}{
		{"missing message", `{"conversation_id": "abc"}`, [][]string{{"body", "message"}}, "missing"},
		{"missing conversation id", `{"message": "hi"}`, [][]string{{"body", "conversation_id"}}, "missing"},
		{"empty object", `{}`, [][]string{{"body", "message"}, {"body", "conversation_id"}}, "missing"},
		{"wrong type", `{"message": 42, "conversation_id": "abc"}`, [][]string{{"body", "message"}}, "string_type"},
		{"malformed", `{"message": `, [][]string{{"body"}}, "json_invalid"},
		{"empty body", ``, [][]string{{"body"}}, "json_invalid"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &stubProvider{reply: "unused"}
			h, _ := newTestRouter(p)

			rr := do(t, h, http.MethodPost, "/chat", tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

			got := decode[struct {
				Detail []FieldError `json:"detail"`
			}](t, rr)
			require.Len(t, got.Detail, len(tc.wantLoc))
			for i, loc := range tc.wantLoc {
				require.Equal(t, loc, got.Detail[i].Loc)
				require.Equal(t, tc.typ, got.Detail[i].Type)
			}
			require.Empty(t, p.calls)
		})
	}
}

func TestChat_ProviderFailure(t *testing.T) {
	p := &stubProvider{err: errors.New("dial tcp 10.0.0.1:443: i/o timeout")}
	h, svc := newTestRouter(p)

	rr := do(t, h, http.MethodPost, "/chat", `{"message": "Hello", "conversation_id": "abc"}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	got := decode[map[string]string](t, rr)
	require.Contains(t, got["detail"], "i/o timeout")

	snap, err := svc.History(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, snap.Turns, 2)
	require.Equal(t, openai.ChatMessageRoleUser, snap.Turns[1].Role)
}

func TestChat_EndedSession(t *testing.T) {
	p := &stubProvider{reply: "Hi there"}
	h, svc := newTestRouter(p)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/chat", `{"message": "Hello", "conversation_id": "abc"}`).Code)

	rr := do(t, h, http.MethodPost, "/chat/abc/end", ``)
	require.Equal(t, http.StatusOK, rr.Code)
	ended := decode[map[string]any](t, rr)
	require.Equal(t, "abc", ended["conversation_id"])
	require.Equal(t, false, ended["active"])

	rr = do(t, h, http.MethodPost, "/chat", `{"message": "More", "conversation_id": "abc"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, map[string]string{"detail": "The chat session has ended. Please start a new session."}, decode[map[string]string](t, rr))

	snap, err := svc.History(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, snap.Turns, 3)
	require.Len(t, p.calls, 1)
}

func TestEnd_Unknown(t *testing.T) {
	h, _ := newTestRouter(&stubProvider{})

	rr := do(t, h, http.MethodPost, "/chat/missing/end", ``)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHistory(t *testing.T) {
	h, _ := newTestRouter(&stubProvider{reply: "Hi there"})

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/chat/abc", ``).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/chat", `{"message": "Hello", "conversation_id": "abc"}`).Code)

	rr := do(t, h, http.MethodGet, "/chat/abc", ``)
	require.Equal(t, http.StatusOK, rr.Code)

	got := decode[struct {
		ConversationID string `json:"conversation_id"`
		Active         bool   `json:"active"`
		Messages       []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}](t, rr)
	require.Equal(t, "abc", got.ConversationID)
	require.True(t, got.Active)
	require.Len(t, got.Messages, 3)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "Hi there", got.Messages[2].Content)
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(&stubProvider{})

	rr := do(t, h, http.MethodGet, "/health", ``)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestCORS(t *testing.T) {
	h, _ := newTestRouter(&stubProvider{reply: "ok"})

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := preflight(testOrigin)
	require.Equal(t, testOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	require.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	rr = preflight("http://evil.example")
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message": "Hello", "conversation_id": "abc"}`))
	req.Header.Set("Origin", testOrigin)
	simple := httptest.NewRecorder()
	h.ServeHTTP(simple, req)
	require.Equal(t, http.StatusOK, simple.Code)
	require.Equal(t, testOrigin, simple.Header().Get("Access-Control-Allow-Origin"))
}
