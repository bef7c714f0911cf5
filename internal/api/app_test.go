package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/bella/internal/emotion"
	"github.com/kalambet/bella/internal/metrics"
	"github.com/kalambet/bella/internal/pipeline"
	"github.com/kalambet/bella/internal/responder"
)

const testToken = "test-token-12345"

type mockReplier struct {
	reply responder.Reply
	err   error
}

func (m *mockReplier) Respond(context.Context, string) (responder.Reply, error) {
	return m.reply, m.err
}

type mockSpeech struct {
	text string
	err  error
}

func (m *mockSpeech) SynthesizeDataURL(_ context.Context, text string) (string, error) {
	m.text = text
	if m.err != nil {
		return "", m.err
	}
	return "data:audio/mp3;base64,AAAA", nil
}

func setupAppHandler(t *testing.T, token string) (http.Handler, AppDeps) {
	t.Helper()
	deps := AppDeps{
		Engine:  newTestEngine(t),
		Replier: &mockReplier{reply: responder.Reply{Text: "よろしくね♪", AffinityDelta: 2, Emotion: emotion.Positive}},
		Metrics: metrics.New(),
		Token:   token,
		Now:     func() time.Time { return testNow },
	}
	return NewAppHandler(deps), deps
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth_NoAuth(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	for _, tok := range []string{"", "wrong"} {
		rr := serve(h, authReq(http.MethodGet, "/api/profile", "", tok))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", tok, rr.Code)
		}
	}
}

func TestAPI_NoTokenConfigured(t *testing.T) {
	h, _ := setupAppHandler(t, "")

	rr := serve(h, authReq(http.MethodGet, "/api/profile", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestChat(t *testing.T) {
	h, deps := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPost, "/api/chat", `{"message":"私の名前は太郎です"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp ChatResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Text != "よろしくね♪" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Affinity != 67 {
		t.Errorf("Affinity = %d, want 67", resp.Affinity)
	}
	if !resp.ProfileUpdated || len(resp.Updates) != 1 {
		t.Errorf("ProfileUpdated = %v, Updates = %v", resp.ProfileUpdated, resp.Updates)
	}
	if resp.EntryID == "" {
		t.Error("EntryID is empty")
	}
	if resp.Audio != "" {
		t.Error("audio returned without speak")
	}
	if p := deps.Engine.Profile(); p.Name == nil || *p.Name != "太郎" {
		t.Errorf("profile name = %v", p.Name)
	}
}

func TestChat_Validation(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	for _, body := range []string{`not json`, `{"message":""}`, `{"message":"   "}`} {
		rr := serve(h, authReq(http.MethodPost, "/api/chat", body, testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestChat_NoResponder(t *testing.T) {
	deps := AppDeps{Engine: newTestEngine(t)}
	h := NewAppHandler(deps)

	rr := serve(h, authReq(http.MethodPost, "/api/chat", `{"message":"やあ"}`, ""))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestChat_ResponderFailureFallsBack(t *testing.T) {
	eng := newTestEngine(t)
	h := NewAppHandler(AppDeps{
		Engine:  eng,
		Replier: &mockReplier{err: errors.New("upstream down")},
	})

	rr := serve(h, authReq(http.MethodPost, "/api/chat", `{"message":"やあ"}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp ChatResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if !resp.Fallback || resp.Text != responder.FallbackText {
		t.Errorf("resp = %+v, want fallback", resp)
	}
	if resp.Affinity != pipeline.DefaultAffinity {
		t.Errorf("Affinity = %d, want unchanged", resp.Affinity)
	}
}

func TestChat_Speech(t *testing.T) {
	sp := &mockSpeech{}
	h := NewAppHandler(AppDeps{
		Engine:  newTestEngine(t),
		Replier: &mockReplier{reply: responder.Reply{Text: "えへへ♪", Emotion: emotion.Positive}},
		Speech:  sp,
	})

	rr := serve(h, authReq(http.MethodPost, "/api/chat", `{"message":"やあ","speak":true}`, ""))
	var resp ChatResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Audio == "" {
		t.Fatal("expected audio")
	}
	if sp.text != "えへへ" {
		t.Errorf("synthesized %q, want text cleaned for speech", sp.text)
	}
}

func TestChat_SpeechFailureStillReplies(t *testing.T) {
	h := NewAppHandler(AppDeps{
		Engine:  newTestEngine(t),
		Replier: &mockReplier{reply: responder.Reply{Text: "うん", Emotion: emotion.Neutral}},
		Speech:  &mockSpeech{err: errors.New("tts down")},
	})

	rr := serve(h, authReq(http.MethodPost, "/api/chat", `{"message":"やあ","speak":true}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp ChatResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Text != "うん" || resp.Audio != "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestExtract(t *testing.T) {
	h, deps := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPost, "/api/extract", `{"message":"ピーマンが嫌いです"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Candidates []map[string]any `json:"candidates"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if len(body.Candidates) != 1 || body.Candidates[0]["type"] != "preference_dislike" {
		t.Errorf("candidates = %v", body.Candidates)
	}
	if len(deps.Engine.Profile().Dislikes) != 0 {
		t.Error("extract must not store anything")
	}
}

func TestProfile_GetAndReset(t *testing.T) {
	h, deps := setupAppHandler(t, testToken)
	if _, err := deps.Engine.ProcessUserMessage(context.Background(), "ラーメンが好き"); err != nil {
		t.Fatal(err)
	}

	rr := serve(h, authReq(http.MethodGet, "/api/profile", "", testToken))
	var doc struct {
		Name        *string `json:"name"`
		Preferences struct {
			Likes []string `json:"likes"`
		} `json:"preferences"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&doc); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if doc.Name != nil || len(doc.Preferences.Likes) != 1 {
		t.Errorf("profile = %+v", doc)
	}

	rr = serve(h, authReq(http.MethodDelete, "/api/profile", "", testToken))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if !deps.Engine.Profile().IsEmpty() {
		t.Error("profile not reset")
	}
	if len(deps.Engine.History().Entries) != 1 {
		t.Error("profile reset must keep history")
	}

	rr = serve(h, authReq(http.MethodDelete, "/api/profile?all=true", "", testToken))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if len(deps.Engine.History().Entries) != 0 {
		t.Error("full reset must clear history")
	}
}

func TestHistory(t *testing.T) {
	h, deps := setupAppHandler(t, testToken)
	for _, msg := range []string{"一", "二", "三"} {
		if _, err := deps.Engine.ProcessUserMessage(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}

	rr := serve(h, authReq(http.MethodGet, "/api/history?limit=2", "", testToken))
	var doc struct {
		Conversations []struct {
			UserMessage string `json:"userMessage"`
		} `json:"conversations"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&doc); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(doc.Conversations) != 2 || doc.Conversations[1].UserMessage != "三" {
		t.Errorf("conversations = %+v", doc.Conversations)
	}

	rr = serve(h, authReq(http.MethodGet, "/api/history?limit=-1", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}

	rr = serve(h, authReq(http.MethodDelete, "/api/history", "", testToken))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if len(deps.Engine.History().Entries) != 0 {
		t.Error("history not cleared")
	}
}

func TestBackupAndStats(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPost, "/api/storage/backup", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var backups struct {
		Backups []struct {
			Type string `json:"type"`
		} `json:"backups"`
	}
	json.NewDecoder(rr.Body).Decode(&backups)
	if len(backups.Backups) != 1 || backups.Backups[0].Type != "profile" {
		t.Errorf("backups = %+v", backups.Backups)
	}

	rr = serve(h, authReq(http.MethodGet, "/api/storage/backups", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	rr = serve(h, authReq(http.MethodGet, "/api/storage/stats", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var stats struct {
		Storage struct {
			Backend string `json:"backend"`
			Backups int    `json:"backups"`
		} `json:"storage"`
		Affinity int `json:"affinity"`
	}
	json.NewDecoder(rr.Body).Decode(&stats)
	if stats.Storage.Backend != "sqlite" || stats.Storage.Backups != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Affinity != pipeline.DefaultAffinity {
		t.Errorf("Affinity = %d", stats.Affinity)
	}
}

func TestImport(t *testing.T) {
	h, deps := setupAppHandler(t, testToken)

	body := `{"name":"花子","birthday":"3月3日","preferences":{"likes":[],"dislikes":[]},"customNotes":[],"lastUpdated":"2025-01-01T00:00:00Z"}`
	rr := serve(h, authReq(http.MethodPost, "/api/storage/import", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"profile"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
	if p := deps.Engine.Profile(); p.Birthday == nil || *p.Birthday != "3月3日" {
		t.Errorf("birthday = %v", p.Birthday)
	}

	rr = serve(h, authReq(http.MethodPost, "/api/storage/import", `{"hello":"world"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestRetention(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.ProcessUserMessage(context.Background(), "こんにちは"); err != nil {
		t.Fatal(err)
	}
	h := NewAppHandler(AppDeps{Engine: eng, Now: func() time.Time { return testNow.Add(48 * time.Hour) }})

	rr := serve(h, authReq(http.MethodPost, "/api/maintenance/retention", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"removed":1`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	serve(h, authReq(http.MethodPost, "/api/chat", `{"message":"ラーメンが好き"}`, testToken))

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}
