package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gwi.com/answer-engine/internal/auth"
	"gwi.com/answer-engine/internal/core"
	"gwi.com/answer-engine/internal/store"
)

type stubSearcher struct{ results []core.SearchResult }

func (s stubSearcher) Search(ctx context.Context, query string) []core.SearchResult {
	return s.results
}

type stubGenerator struct {
	chunks []string
	err    error
}

func (g stubGenerator) GenerateAnswer(ctx context.Context, query string, sources []core.SearchResult, style core.AnswerLength, p *core.Personalization, onChunk func(string) error) (*core.AnswerResult, error) {
	for _, c := range g.chunks {
		if err := onChunk(c); err != nil {
			return nil, err
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &core.AnswerResult{ModelUsed: "gemini-2.5-flash", Followups: core.FollowUpQuestions(query)}, nil
}

type fakeRewriter struct {
	out string
	err error
}

func (f fakeRewriter) Rephrase(ctx context.Context, query string) (string, error) {
	if f.err != nil {
		return query, f.err
	}
	return f.out, nil
}

func (f fakeRewriter) Transform(ctx context.Context, text, prompt string) (string, error) {
	return f.out, f.err
}

type testEnv struct {
	handler http.Handler
	store   *store.SQLiteStore
}

type envOptions struct {
	generator core.AnswerGenerator
	searcher  core.Searcher
	rewriter  TextRewriter
	limit     int
	secret    string
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	if opts.generator == nil {
		opts.generator = stubGenerator{chunks: []string{"Hello", " world"}}
	}
	if opts.searcher == nil {
		opts.searcher = stubSearcher{}
	}
	if opts.rewriter == nil {
		opts.rewriter = fakeRewriter{out: "rewritten"}
	}
	if opts.limit == 0 {
		opts.limit = 10
	}

	log := zap.NewNop()
	h := NewAPIHandler(Deps{
		Conversations: core.NewConversationService(s, log),
		Relay:         core.NewAnswerRelay(opts.searcher, opts.generator, core.NewRateLimiter(opts.limit, time.Minute), log),
		Rewriter:      opts.rewriter,
		Owners:        auth.NewResolver(opts.secret, 1),
		DB:            s,
		Logger:        log,
	})
	return &testEnv{
		handler: NewRouter(h, RouterConfig{CORSAllowedOrigins: []string{"*"}, APIRateLimitRequests: 0}, log),
		store:   s,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

// readEvents posts to /api/answer over a real connection and collects the
// data lines of the event stream.
func readEvents(t *testing.T, server *httptest.Server, body string) (*http.Response, []map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(server.URL+"/api/answer", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var events []map[string]interface{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		events = append(events, ev)
	}
	return resp, events
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func types(events []map[string]interface{}) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i], _ = ev["type"].(string)
	}
	return out
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	rec = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.store.Close()
	rec = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAnswerStream(t *testing.T) {
	env := newTestEnv(t, envOptions{
		searcher: stubSearcher{results: []core.SearchResult{{Title: "Go", URL: "https://go.dev", Index: 1}}},
	})
	server := httptest.NewServer(env.handler)
	defer server.Close()

	resp, events := readEvents(t, server, `{"query":"what is go","answerStyle":"detailed"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, []string{"sources", "token", "token", "modelUsed", "followups", "done"}, types(events))
	assert.Len(t, events[0]["sources"], 1)
	assert.Equal(t, "Hello", events[1]["content"])
	assert.Equal(t, "gemini-2.5-flash", events[3]["model"])
	assert.Len(t, events[4]["followups"], 3)
}

func TestAnswerStreamError(t *testing.T) {
	env := newTestEnv(t, envOptions{generator: stubGenerator{
		chunks: []string{"partial"},
		err:    &core.GenerationError{Message: "Failed to generate AI answer", Cause: errors.New("boom")},
	}})
	server := httptest.NewServer(env.handler)
	defer server.Close()

	_, events := readEvents(t, server, `{"query":"q"}`)

	assert.Equal(t, []string{"sources", "token", "error"}, types(events))
	assert.Equal(t, []interface{}{}, events[0]["sources"])
	assert.Equal(t, "Failed to generate AI answer", events[2]["error"])
}

func TestAnswerRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodPost, "/api/answer", `{"query":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, core.CodeMissingQuery, body.Code)

	rec = env.do(t, http.MethodPost, "/api/answer", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, core.CodeInvalidBody, body.Code)

	rec = env.do(t, http.MethodPost, "/api/answer", `{"query":42}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnswerRateLimited(t *testing.T) {
	env := newTestEnv(t, envOptions{limit: 1})
	server := httptest.NewServer(env.handler)
	defer server.Close()

	_, events := readEvents(t, server, `{"query":"first"}`)
	require.NotEmpty(t, events)

	resp, err := http.Post(server.URL+"/api/answer", "application/json", strings.NewReader(`{"query":"second"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, core.CodeRateLimited, body.Code)
	assert.Contains(t, body.Error, "Rate limit exceeded. Please try again in")
}

func TestRephrase(t *testing.T) {
	env := newTestEnv(t, envOptions{rewriter: fakeRewriter{out: "golang memory model"}})

	rec := env.do(t, http.MethodPost, "/api/rephrase", `{"query":"go memory"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rephrased":"golang memory model"}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/rephrase", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRephraseFailureKeepsQuery(t *testing.T) {
	env := newTestEnv(t, envOptions{rewriter: fakeRewriter{err: errors.New("upstream down")}})

	rec := env.do(t, http.MethodPost, "/api/rephrase", `{"query":"go memory"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"rephrased":"go memory","error":"Failed to rephrase query"}`, rec.Body.String())
}

func TestTransform(t *testing.T) {
	env := newTestEnv(t, envOptions{rewriter: fakeRewriter{out: "short"}})

	rec := env.do(t, http.MethodPost, "/api/transform", `{"text":"long text","action":"shorten","prompt":"Shorten: long text"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"short"}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/transform", `{"text":"long text"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env = newTestEnv(t, envOptions{rewriter: fakeRewriter{err: errors.New("boom")}})
	rec = env.do(t, http.MethodPost, "/api/transform", `{"text":"a","action":"b","prompt":"c"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodPost, "/api/conversations", `{"message":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created core.ConversationWithMessages
	decodeBody(t, rec, &created)
	assert.Equal(t, "hello", created.Title)
	assert.Equal(t, int64(1), created.UserID)
	require.Len(t, created.Messages, 1)

	id := created.ID
	base := "/api/conversations/" + itoa(id)

	rec = env.do(t, http.MethodPost, base+"/messages", `{"role":"assistant","content":"hi","modelUsed":"gemini-2.5-flash"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg store.Message
	decodeBody(t, rec, &msg)
	require.NotNil(t, msg.ModelUsed)
	assert.Equal(t, "gemini-2.5-flash", *msg.ModelUsed)

	rec = env.do(t, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.ConversationSummary
	decodeBody(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].MessageCount)

	rec = env.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got core.ConversationWithMessages
	decodeBody(t, rec, &got)
	assert.Len(t, got.Messages, 2)

	rec = env.do(t, http.MethodGet, base+"?userId=2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body errorResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, core.CodeNotFound, body.Code)
}

func TestCreateConversationValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for name, payload := range map[string]string{
		"missing":    `{}`,
		"blank":      `{"message":"   "}`,
		"not string": `{"message":5}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/conversations", payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorResponse
			decodeBody(t, rec, &body)
			assert.Equal(t, core.CodeMissingMessage, body.Code)
		})
	}

	rec := env.do(t, http.MethodPost, "/api/conversations", `{"message":"hi","userId":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateConversationBodyOwner(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodPost, "/api/conversations", `{"message":"mine","userId":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/conversations?userId=5", "")
	var list []store.ConversationSummary
	decodeBody(t, rec, &list)
	assert.Len(t, list, 1)
}

func TestAppendMessageValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodPost, "/api/conversations", `{"message":"hello"}`)
	var created core.ConversationWithMessages
	decodeBody(t, rec, &created)
	base := "/api/conversations/" + itoa(created.ID)

	tests := []struct {
		payload string
		status  int
		code    string
	}{
		{`{"content":"x"}`, http.StatusBadRequest, core.CodeMissingRole},
		{`{"role":"user"}`, http.StatusBadRequest, core.CodeInvalidContent},
		{`{"role":"user","content":7}`, http.StatusBadRequest, core.CodeInvalidContent},
		{`{"role":"moderator","content":"x"}`, http.StatusBadRequest, core.CodeInvalidRole},
		{`{"role":3,"content":"x"}`, http.StatusBadRequest, core.CodeInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, base+"/messages", tt.payload)
			assert.Equal(t, tt.status, rec.Code)
			var body errorResponse
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.code, body.Code)
		})
	}

	rec = env.do(t, http.MethodPost, base+"/messages?userId=2", `{"role":"user","content":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	n, err := env.store.CountMessages(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInvalidIdentifiers(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/conversations/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, core.CodeInvalidID, body.Code)

	rec = env.do(t, http.MethodGet, "/api/conversations?userId=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, core.CodeInvalidUserID, body.Code)
}

func TestClearConversations(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodDelete, "/api/conversations/clear", "")
	assert.Equal(t, http.StatusNoContent, rec.Code, "clearing nothing still succeeds")

	env.do(t, http.MethodPost, "/api/conversations", `{"message":"a"}`)
	env.do(t, http.MethodPost, "/api/conversations", `{"message":"b"}`)

	rec = env.do(t, http.MethodDelete, "/api/conversations/clear?userId=1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/conversations", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestBearerOwner(t *testing.T) {
	secret := "s3cret"
	env := newTestEnv(t, envOptions{secret: secret})

	token, err := auth.GenerateJWT([]byte(secret), 9, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(`{"message":"hi","userId":3}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created core.ConversationWithMessages
	decodeBody(t, rec, &created)
	assert.Equal(t, int64(9), created.UserID, "token owner is not overridden by the body")

	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIRateLimit(t *testing.T) {
	handler := APIRateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, "192.0.2.10", clientIP(req))
	req.RemoteAddr = "192.0.2.10"
	assert.Equal(t, "192.0.2.10", clientIP(req))
}
