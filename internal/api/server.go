package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"podforge/internal/config"
	"podforge/internal/models"
	"podforge/internal/queue"
	"podforge/internal/ratelimit"
	"podforge/internal/realtime"
	"podforge/internal/store"
	"podforge/internal/telemetry"
)

// Server wires HTTP handlers for the producer API.
type Server struct {
	cfg     config.Config
	store   *store.Store
	queue   *queue.RedisQueue
	limiter *ratelimit.TokenBucket
	redis   *redis.Client
	logger  *slog.Logger
}

// New constructs the API server. The Redis client backs per-connection
// realtime watchers.
func New(cfg config.Config, st *store.Store, q *queue.RedisQueue, limiter *ratelimit.TokenBucket, rdb *redis.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   st,
		queue:   q,
		limiter: limiter,
		redis:   rdb,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleSubmitJob)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/pods/{id}", s.handleGetPod)
	r.Get("/pods/{id}/events", s.handlePodEvents)
	r.Post("/drafts", s.handleSubmitDraft)
	r.Get("/drafts/{id}", s.handleGetDraft)
	r.Get("/dlq", s.handleDLQ)
	return r
}

type submitJobRequest struct {
	UserID         string            `json:"user_id"`
	Payload        models.JobPayload `json:"payload"`
	IdempotencyKey string            `json:"idempotency_key"`
}

type submitJobResponse struct {
	Job        models.Job `json:"job"`
	Idempotent bool       `json:"idempotent"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Payload.Topic == "" && len(req.Payload.Inputs) == 0 {
		http.Error(w, "payload.topic or payload.inputs is required", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), "rl:"+req.UserID)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	job, idempotent, err := s.store.CreateJob(r.Context(), store.CreateJobParams{
		UserID:         req.UserID,
		Type:           queue.TaskPodCreate,
		Payload:        req.Payload,
		TraceID:        uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !idempotent {
		task := queue.NewTask(queue.TaskPodCreate)
		task.JobID = job.ID
		task.TraceID = job.TraceID
		if err := s.queue.Enqueue(r.Context(), task); err != nil {
			msg := fmt.Sprintf("enqueue creation task: %v", err)
			_ = s.store.MarkJobFailed(r.Context(), job.ID, msg)
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		telemetry.JobsSubmitted.Inc()
		s.logger.Info("job submitted", "job_id", job.ID, "trace_id", job.TraceID, "user_id", job.UserID)
	}

	writeJSON(w, http.StatusAccepted, submitJobResponse{Job: job, Idempotent: idempotent})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetPod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pod, err := s.store.GetPod(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, pod)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handlePodEvents streams readiness updates for one pod over a WebSocket.
// Each connection gets its own watcher; the watcher handles the terminal
// short-circuit, the settling delay, and the duplicate-subscribe guard.
func (s *Server) handlePodEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	watcher := realtime.NewWatcher(s.redis, s.store, s.cfg.WatchSettleDelay, s.logger)
	updates, err := watcher.Watch(ctx, id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	bridgeEvents(cancel, conn, updates)
}

// bridgeEvents pumps watcher updates onto the socket until the channel
// closes. The read loop exists only to observe the close: a client that
// disconnects while no events flow must still cancel the watcher, or the
// subscription leaks for the pod's whole lifetime.
func bridgeEvents(cancel context.CancelFunc, conn *websocket.Conn, updates <-chan realtime.Update) {
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for update := range updates {
		if err := conn.WriteJSON(update); err != nil {
			cancel()
			return
		}
	}
}

type submitDraftRequest struct {
	UserID     string          `json:"user_id"`
	IntentText string          `json:"intent_text"`
	PlaceID    string          `json:"place_id"`
	Weather    json.RawMessage `json:"weather,omitempty"`
	SceneImage []byte          `json:"scene_image,omitempty"`
}

func (s *Server) handleSubmitDraft(w http.ResponseWriter, r *http.Request) {
	var req submitDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.IntentText == "" {
		http.Error(w, "user_id and intent_text are required", http.StatusBadRequest)
		return
	}

	draft, err := s.store.CreateDraft(r.Context(), store.CreateDraftParams{
		UserID:     req.UserID,
		IntentText: req.IntentText,
		PlaceID:    req.PlaceID,
		Weather:    req.Weather,
		SceneImage: req.SceneImage,
		TraceID:    uuid.New().String(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	task := queue.NewTask(queue.TaskDraftClassify)
	task.DraftID = draft.ID
	task.TraceID = draft.TraceID
	if err := s.queue.Enqueue(r.Context(), task); err != nil {
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("draft submitted", "draft_id", draft.ID, "trace_id", draft.TraceID)

	writeJSON(w, http.StatusAccepted, draft)
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	draft, err := s.store.GetDraft(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleDLQ returns the dead-lettered tasks for operator inspection.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.DLQPeek(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to read dlq", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
