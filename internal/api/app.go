package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/bella/internal/emotion"
	"github.com/kalambet/bella/internal/extract"
	"github.com/kalambet/bella/internal/history"
	"github.com/kalambet/bella/internal/metrics"
	"github.com/kalambet/bella/internal/pipeline"
	"github.com/kalambet/bella/internal/profile"
	"github.com/kalambet/bella/internal/responder"
	"github.com/kalambet/bella/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxImportBodySize  = 10 << 20 // 10MB
)

// Synthesizer turns reply text into playable audio.
type Synthesizer interface {
	SynthesizeDataURL(ctx context.Context, text string) (string, error)
}

type AppDeps struct {
	Engine *pipeline.Engine
	// Replier answers chat turns; nil makes /api/chat return 503.
	Replier pipeline.Replier
	// Speech is optional; without it chat replies carry no audio.
	Speech  Synthesizer
	Metrics *metrics.Metrics
	Token   string
	// MCP, when set, is served over streamable HTTP at /mcp.
	MCP    *server.MCPServer
	Logger *slog.Logger
	Now    func() time.Time
}

// NewAppHandler returns the HTTP API: health and metrics unauthenticated,
// everything under /api (and /mcp) behind bearer auth.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chat", handleChat(deps))
		r.Post("/extract", handleExtract(deps))
		r.Get("/profile", handleGetProfile(deps))
		r.Delete("/profile", handleResetProfile(deps))
		r.Get("/history", handleGetHistory(deps))
		r.Delete("/history", handleResetHistory(deps))
		r.Post("/storage/backup", handleBackup(deps))
		r.Get("/storage/backups", handleListBackups(deps))
		r.Get("/storage/stats", handleStats(deps))
		r.Post("/storage/import", handleImport(deps))
		r.Post("/maintenance/retention", handleRetention(deps))
	})

	if deps.MCP != nil {
		r.With(BearerAuth(deps.Token)).Handle("/mcp", server.NewStreamableHTTPServer(deps.MCP))
	}
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
	// Speak asks for synthesized audio of the reply.
	Speak bool `json:"speak,omitempty"`
}

// ChatResponse is the reply to POST /api/chat.
type ChatResponse struct {
	Text               string          `json:"text"`
	Emotion            emotion.Emotion `json:"emotion"`
	FavorabilityChange int             `json:"favorabilityChange"`
	Affinity           int             `json:"affinity"`
	EntryID            string          `json:"entryId"`
	ProfileUpdated     bool            `json:"profileUpdated"`
	Updates            []string        `json:"updates,omitempty"`
	Audio              string          `json:"audio,omitempty"`
	Fallback           bool            `json:"fallback,omitempty"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Replier == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "responder not configured: set BELLA_RESPONDER_API_KEY")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		msg := strings.TrimSpace(req.Message)
		if msg == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		ex, err := deps.Engine.Converse(r.Context(), msg, deps.Replier)
		reply := ex.Reply
		if err != nil {
			deps.Logger.Warn("responder failed, sending fallback reply", "entry", ex.Turn.Entry.ID, "error", err)
			reply = responder.FallbackReply()
		}

		resp := ChatResponse{
			Text:               reply.Text,
			Emotion:            reply.Emotion,
			FavorabilityChange: reply.AffinityDelta,
			Affinity:           deps.Engine.Affinity(),
			EntryID:            ex.Turn.Entry.ID,
			ProfileUpdated:     ex.Turn.ProfileUpdated,
			Updates:            ex.Turn.UpdateMessages,
			Fallback:           reply.Fallback,
		}

		if req.Speak && deps.Speech != nil {
			audio, err := deps.Speech.SynthesizeDataURL(r.Context(), responder.CleanForSpeech(reply.Text))
			if err != nil {
				deps.Logger.Warn("speech synthesis failed", "error", err)
			} else {
				resp.Audio = audio
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleExtract(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		cands := deps.Engine.Extract(req.Message)
		if cands == nil {
			cands = []extract.Candidate{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"candidates": cands})
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := profile.Encode(deps.Engine.Profile())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "encoding profile: %v", err)
			return
		}
		writeRawJSON(w, data)
	}
}

func handleResetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := r.URL.Query().Get("all") == "true"
		var err error
		if all {
			err = deps.Engine.Reset(r.Context())
		} else {
			err = deps.Engine.ResetProfile(r.Context())
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reset failed: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := deps.Engine.History()
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a non-negative integer")
				return
			}
			h.Entries = deps.Engine.Recent(n)
		}
		data, err := history.Encode(h)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "encoding history: %v", err)
			return
		}
		writeRawJSON(w, data)
	}
}

func handleResetHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Engine.ResetHistory(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reset failed: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleBackup(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Retry pending writes first so the backup matches what is stored.
		if err := deps.Engine.Flush(r.Context()); err != nil {
			deps.Logger.Warn("flush before backup failed", "error", err)
		}
		infos, err := deps.Engine.Backup(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "backup failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"backups": infos})
	}
}

func handleListBackups(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos, err := deps.Engine.ListBackups(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing backups: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"backups": infos})
	}
}

// StatsResponse is the reply to GET /api/storage/stats.
type StatsResponse struct {
	Storage        storage.Stats `json:"storage"`
	HistoryEntries int           `json:"historyEntries"`
	SessionStarted time.Time     `json:"sessionStarted"`
	Affinity       int           `json:"affinity"`
	HasName        bool          `json:"hasName"`
	Notes          int           `json:"notes"`
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Engine.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading storage stats: %v", err)
			return
		}
		h := deps.Engine.History()
		p := deps.Engine.Profile()
		writeJSON(w, http.StatusOK, StatsResponse{
			Storage:        st,
			HistoryEntries: len(h.Entries),
			SessionStarted: h.SessionStartedAt,
			Affinity:       deps.Engine.Affinity(),
			HasName:        p.Name != nil,
			Notes:          len(p.Notes),
		})
	}
}

func handleImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}
		kind, err := deps.Engine.Import(r.Context(), data)
		if errors.Is(err, pipeline.ErrInvalidImport) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "import failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"imported": kind})
	}
}

func handleRetention(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Engine.RunRetentionPass(r.Context(), deps.Now())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "retention pass failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})
	}
}
