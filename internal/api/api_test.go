package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/tutorium/internal/app"
	"github.com/abhisek/tutorium/internal/config"
	"github.com/abhisek/tutorium/internal/embedding"
	"github.com/abhisek/tutorium/internal/llm"
	"github.com/abhisek/tutorium/internal/store"
)

type testServer struct {
	*httptest.Server
	mock *llm.MockProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg, err := config.Load(config.New())
	require.NoError(t, err)
	cfg.Storage.Type = "local"
	cfg.Storage.LocalPath = t.TempDir()
	cfg.Tracing.Enabled = false
	cfg.Redis.Enabled = false
	cfg.Retrieval.Backend = "store"

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mock := llm.NewMockProvider()
	a, err := app.New(context.Background(), cfg, nil, app.Options{
		Store:    st,
		Provider: mock,
		Embedder: embedding.NewHashEmbedder(64),
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, mock: mock}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header ...string) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return m
}

const limitsDraft = `{"title":"Limits","questions":[
	{"question":"lim x->0 of sin(x)/x?","type":"multiple_choice","options":["0","1","infinity","undefined"],"correct_answer":"B","explanation":"Standard limit."},
	{"question":"Derivative of x^2 at x=3?","type":"short_answer","options":[],"correct_answer":"6","explanation":"2x."}
]}`

func (ts *testServer) generate(t *testing.T, sessionID string) string {
	t.Helper()
	ts.mock.AddResponse(llm.MockResponse{Content: json.RawMessage(limitsDraft)})
	resp, body := ts.do(t, http.MethodPost, "/api/quiz/generate", map[string]any{
		"session_id":    sessionID,
		"topic":         "Analysis",
		"num_questions": 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	return decode(t, body)["quiz_id"].(string)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, body)["status"])

	resp, body = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestQuiz_GenerateHidesAnswers(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.AddResponse(llm.MockResponse{Content: json.RawMessage(limitsDraft)})

	resp, body := ts.do(t, http.MethodPost, "/api/quiz/generate", map[string]any{
		"session_id": "s1", "topic": "Analysis", "num_questions": 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.NotContains(t, string(body), "correct_answer")
	assert.NotContains(t, string(body), "Standard limit")

	m := decode(t, body)
	assert.Equal(t, "Limits", m["title"])
	assert.EqualValues(t, 2, m["total_questions"])
	qs := m["questions"].([]any)
	require.Len(t, qs, 2)
	assert.Equal(t, "q1", qs[0].(map[string]any)["id"])
}

func TestQuiz_SubmitFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.generate(t, "s1")

	resp, body := ts.do(t, http.MethodGet, "/api/quiz/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, body)["graded"])

	resp, body = ts.do(t, http.MethodPost, "/api/quiz/"+id+"/submit", map[string]any{
		"answers":            map[string]string{"q1": "b", "q2": "6.0"},
		"time_taken_seconds": 45,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	m := decode(t, body)
	assert.EqualValues(t, 2, m["correct_count"])
	assert.EqualValues(t, 100, m["percentage"])
	r := m["reward"].(float64)
	if r < 0 || r > 1 {
		t.Errorf("reward = %v, want within [0, 1]", r)
	}
	results := m["results"].([]any)
	assert.Equal(t, "numeric", results[1].(map[string]any)["method"])

	resp, body = ts.do(t, http.MethodPost, "/api/quiz/"+id+"/submit", map[string]any{
		"answers": map[string]string{"q1": "A"},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "error_already_graded", decode(t, body)["code"])

	resp, body = ts.do(t, http.MethodGet, "/api/quiz/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m = decode(t, body)
	assert.Equal(t, true, m["graded"])
	assert.EqualValues(t, 100, m["result"].(map[string]any)["percentage"])

	resp, body = ts.do(t, http.MethodGet, "/api/quiz/history/s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode(t, body)["summary"].(map[string]any)
	assert.EqualValues(t, 1, sum["quizzes"])
	assert.EqualValues(t, 1, sum["graded"])
}

func TestQuiz_SubmitErrors(t *testing.T) {
	ts := newTestServer(t)
	id := ts.generate(t, "s1")

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown quiz", "/api/quiz/missing/submit", map[string]any{"answers": map[string]string{}}, http.StatusNotFound, "error_not_found"},
		{"bad json", "/api/quiz/" + id + "/submit", "{", http.StatusBadRequest, "error_bad_request"},
		{"unknown question", "/api/quiz/" + id + "/submit", map[string]any{"answers": map[string]string{"q9": "A"}}, http.StatusBadRequest, "error_invalid_submission"},
		{"negative time", "/api/quiz/" + id + "/submit", map[string]any{"answers": map[string]string{}, "time_taken_seconds": -1}, http.StatusBadRequest, "error_invalid_submission"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
			assert.Equal(t, tt.code, decode(t, body)["code"])
		})
	}

	// Rejected submissions leave the quiz ungraded.
	resp, body := ts.do(t, http.MethodGet, "/api/quiz/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, body)["graded"])
}

func TestQuiz_GenerateErrors(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/quiz/generate", map[string]any{"topic": "Analysis"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodPost, "/api/quiz/generate", map[string]any{
		"session_id": "s1", "topic": "Analysis", "difficulty": "brutal",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	// An empty mock queue behaves like an unreachable backend.
	resp, body = ts.do(t, http.MethodPost, "/api/quiz/generate", map[string]any{
		"session_id": "s1", "topic": "Analysis",
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode, string(body))
}

func TestQuiz_Hint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.generate(t, "s1")

	ts.mock.AddResponse(llm.MockResponse{Content: json.RawMessage(`{"hint":"Think about the unit circle near zero."}`)})
	resp, body := ts.do(t, http.MethodPost, "/api/quiz/"+id+"/hint", map[string]string{"question_id": "q1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	m := decode(t, body)
	assert.Equal(t, "q1", m["question_id"])
	assert.NotEmpty(t, m["hint"])
	assert.Equal(t, false, m["cached"])

	resp, body = ts.do(t, http.MethodPost, "/api/quiz/"+id+"/hint", map[string]string{"question_id": "q1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, true, decode(t, body)["cached"])

	resp, body = ts.do(t, http.MethodPost, "/api/quiz/"+id+"/hint", map[string]string{"question_id": "q7"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, string(body))
	assert.Equal(t, "error_unknown_question", decode(t, body)["code"])

	resp, _ = ts.do(t, http.MethodPost, "/api/quiz/"+id+"/hint", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrors_Localized(t *testing.T) {
	ts := newTestServer(t)
	id := ts.generate(t, "s1")

	resp, _ := ts.do(t, http.MethodPost, "/api/quiz/"+id+"/submit", map[string]any{"answers": map[string]string{"q1": "B"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/quiz/"+id+"/submit",
		map[string]any{"answers": map[string]string{"q1": "B"}},
		"Accept-Language", "de-DE,de;q=0.9")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Dieses Quiz wurde bereits abgegeben.", decode(t, body)["error"])

	resp, body = ts.do(t, http.MethodGet, "/api/quiz/nope", nil, "Accept-Language", "en")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Quiz was not found.", decode(t, body)["error"])
}

func TestProblemSheets(t *testing.T) {
	ts := newTestServer(t)

	sheet := `{"title":"Limits I","topic":"Analysis","difficulty":"medium","problems":[
		{"question":"Compute lim x->0 sin(3x)/x.","solution":"3"},
		{"question":"Compute lim x->inf (1+1/x)^x.","solution":"e"}
	]}`
	resp, body := ts.do(t, http.MethodPost, "/api/documents/problem-sheets/upload", sheet)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	m := decode(t, body)
	assert.EqualValues(t, 2, m["problems_count"])
	id := m["id"].(string)

	resp, body = ts.do(t, http.MethodGet, "/api/documents/problem-sheets/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Limits I")

	resp, body = ts.do(t, http.MethodGet, "/api/documents/problem-sheets?topic=Analysis&difficulty=Medium", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.EqualValues(t, 1, decode(t, body)["count"])

	resp, _ = ts.do(t, http.MethodGet, "/api/documents/problem-sheets?difficulty=brutal", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/documents/problem-sheets/upload", `{"title":"t","problems":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/documents/problem-sheets/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/documents/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode(t, body)
	assert.EqualValues(t, 1, stats["problem_sheets"])
	assert.EqualValues(t, 2, stats["total_problems"])
}

func (ts *testServer) upload(t *testing.T, filename, content, topic string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	if topic != "" {
		require.NoError(t, mw.WriteField("topic", topic))
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/documents/lecture-notes/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func TestLectureNotes_UploadAndChat(t *testing.T) {
	ts := newTestServer(t)
	notes := "The eigenvalues of a real symmetric matrix are always real numbers."

	resp, body := ts.upload(t, "linear-algebra.md", notes, "Linear Algebra")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	m := decode(t, body)
	assert.EqualValues(t, 1, m["chunks_created"])
	assert.EqualValues(t, 1, m["embedded"])

	resp, _ = ts.upload(t, "notes.exe", "binary", "Linear Algebra")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.upload(t, "notes.md", notes, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/documents/lecture-notes?topic=Linear%20Algebra", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, decode(t, body)["count"])

	ts.mock.AddResponse(llm.MockResponse{Text: "Yes, they are real."})
	resp, body = ts.do(t, http.MethodPost, "/api/chat/message", map[string]string{"session_id": "s1", "message": notes})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	m = decode(t, body)
	assert.Equal(t, "Yes, they are real.", m["response"])
	assert.Equal(t, true, m["context_available"])
	assert.Equal(t, []any{"linear-algebra.md"}, m["sources"])

	resp, body = ts.do(t, http.MethodGet, "/api/chat/topics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode(t, body)["topics"], "Linear Algebra")
}

func TestChat_Sessions(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/chat/session", map[string]string{"subject": "Group theory"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	id := decode(t, body)["session_id"].(string)
	require.NotEmpty(t, id)

	ts.mock.AddResponse(llm.MockResponse{Text: "A group has closure, associativity, identity and inverses."})
	resp, body = ts.do(t, http.MethodPost, "/api/chat/message", map[string]string{"session_id": id, "message": "What is a group?"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	m := decode(t, body)
	assert.Equal(t, false, m["context_available"])
	assert.NotEmpty(t, m["notice"])

	resp, body = ts.do(t, http.MethodGet, "/api/chat/session/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m = decode(t, body)
	assert.Equal(t, "Group theory", m["subject"])
	assert.Len(t, m["messages"], 2)

	resp, _ = ts.do(t, http.MethodGet, "/api/chat/session/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/chat/message", map[string]string{"session_id": id, "message": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Backend failure keeps the user's message.
	resp, _ = ts.do(t, http.MethodPost, "/api/chat/message", map[string]string{"session_id": id, "message": "And a ring?"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	_, body = ts.do(t, http.MethodGet, "/api/chat/session/"+id, nil)
	assert.Len(t, decode(t, body)["messages"], 3)
}

func TestTrajectories_Export(t *testing.T) {
	ts := newTestServer(t)
	id := ts.generate(t, "s1")
	resp, _ := ts.do(t, http.MethodPost, "/api/quiz/"+id+"/submit", map[string]any{
		"answers": map[string]string{"q1": "B", "q2": "6"}, "time_taken_seconds": 60,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/api/trajectories/s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode(t, body)
	assert.EqualValues(t, 2, m["count"])
	recs := m["trajectories"].([]any)
	assert.Equal(t, "quiz_generation", recs[0].(map[string]any)["action_type"])
	assert.Equal(t, "grading", recs[1].(map[string]any)["action_type"])

	resp, body = ts.do(t, http.MethodGet, "/api/trajectories/export?min_reward=0.0&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m = decode(t, body)
	assert.EqualValues(t, 1, m["count"])
	assert.Equal(t, "grading", m["trajectories"].([]any)[0].(map[string]any)["action_type"], "newest first")

	resp, body = ts.do(t, http.MethodGet, "/api/trajectories/export?format=jsonl", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	lines := 0
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.Equal(t, "s1", rec["session_id"])
		lines++
	}
	assert.Equal(t, 2, lines)

	resp, _ = ts.do(t, http.MethodGet, "/api/trajectories/export?min_reward=high", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
