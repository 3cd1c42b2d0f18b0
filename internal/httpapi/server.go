// Package httpapi is the thin chi-based collaborator surface spec §6
// describes: event ingest, dry-run, user-state reads, and wallet
// operations. It owns no business logic beyond request parsing and status
// code mapping; every decision is made by the packages it wraps (queue,
// dryrun, userstate, catalog-aware wallet mutation), following the
// teacher's gateway router's "router owns wiring, handlers own decoding"
// split.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voidexforge/gamification-engine/internal/catalog"
	"github.com/voidexforge/gamification-engine/internal/dryrun"
	"github.com/voidexforge/gamification-engine/internal/enginerr"
	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/queue"
	"github.com/voidexforge/gamification-engine/internal/storage"
	"github.com/voidexforge/gamification-engine/internal/userstate"
)

// Server wires every HTTP-facing dependency.
type Server struct {
	queue     *queue.Queue
	dryrun    *dryrun.Service
	userState *userstate.Projection
	wallets   storage.WalletStore
	catalog   *catalog.Catalog
	logger    *zap.Logger
	limiter   func(http.Handler) http.Handler
}

func New(q *queue.Queue, dr *dryrun.Service, us *userstate.Projection, wallets storage.WalletStore, cat *catalog.Catalog, logger *zap.Logger, rateLimitMiddleware func(http.Handler) http.Handler) *Server {
	return &Server{queue: q, dryrun: dr, userState: us, wallets: wallets, catalog: cat, logger: logger, limiter: rateLimitMiddleware}
}

// Router builds the mounted chi.Router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter)
		}
		r.Post("/events", s.handleIngest)
		r.Post("/dryrun", s.handleDryRun)
	})

	r.Get("/users/{userId}/state", s.handleGetUserState)
	r.Get("/wallets/{userId}/{category}", s.handleGetWallet)
	r.Post("/wallets/{userId}/spend", s.handleSpend)
	r.Post("/wallets/{userId}/transfer", s.handleTransfer)

	return r
}

// eventDocument is the wire form of spec §6 "Event document".
type eventDocument struct {
	EventID    string                 `json:"eventId,omitempty"`
	EventType  string                 `json:"eventType"`
	UserID     string                 `json:"userId"`
	OccurredAt *time.Time             `json:"occurredAt,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var doc eventDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if doc.EventType == "" || doc.UserID == "" {
		writeError(w, http.StatusBadRequest, "eventType and userId are required")
		return
	}

	e := &model.Event{
		EventID:    doc.EventID,
		EventType:  doc.EventType,
		UserID:     doc.UserID,
		OccurredAt: time.Now().UTC(),
		Attributes: doc.Attributes,
	}
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if doc.OccurredAt != nil {
		e.OccurredAt = doc.OccurredAt.UTC()
	}

	outcome, err := s.queue.Enqueue(r.Context(), e)
	if err != nil {
		s.logger.Error("httpapi: enqueue failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	switch outcome {
	case queue.OK:
		writeJSON(w, http.StatusAccepted, map[string]string{"eventId": e.EventID})
	case queue.DuplicateID:
		writeError(w, http.StatusConflict, "eventId already ingested")
	case queue.QueueFull:
		writeError(w, http.StatusServiceUnavailable, "ingest queue is full")
	}
}

func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	var doc eventDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	e := &model.Event{
		EventID: doc.EventID, EventType: doc.EventType, UserID: doc.UserID,
		OccurredAt: time.Now().UTC(), Attributes: doc.Attributes,
	}
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if doc.OccurredAt != nil {
		e.OccurredAt = doc.OccurredAt.UTC()
	}

	resp, err := s.dryrun.Evaluate(r.Context(), e)
	if err != nil {
		s.logger.Error("httpapi: dry-run failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetUserState(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	state, err := s.userState.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	category := chi.URLParam(r, "category")
	wallet, err := s.wallets.GetWallet(r.Context(), userID, category)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

type spendRequest struct {
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	var req spendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Category == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "category and a positive amount are required")
		return
	}

	negativeAllowed := true
	if cat, ok := s.catalog.Snapshot().PointCategories[req.Category]; ok {
		negativeAllowed = cat.NegativeAllowed
		if !cat.SpendAllowed {
			writeError(w, http.StatusBadRequest, "category does not allow direct spend")
			return
		}
	} else {
		writeError(w, http.StatusNotFound, "point category not found")
		return
	}

	tx := &model.WalletTransaction{ID: uuid.New().String(), UserID: userID, PointCategory: req.Category, Amount: -req.Amount, Type: model.TxDebit, Timestamp: time.Now().UTC()}
	balance, err := s.wallets.ApplyTransaction(r.Context(), tx, negativeAllowed)
	if err != nil {
		if err == enginerr.ErrNegativeBalance {
			writeError(w, http.StatusConflict, "insufficient balance")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to apply spend")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

type transferRequest struct {
	ToUserID string `json:"toUserId"`
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToUserID == "" || req.Category == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "toUserId, category and a positive amount are required")
		return
	}

	if err := s.applyDirectTransfer(r.Context(), userID, req.ToUserID, req.Category, req.Amount); err != nil {
		if err == enginerr.ErrTransferFailed {
			writeError(w, http.StatusConflict, "transfer could not be completed")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to apply transfer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// applyDirectTransfer mirrors the executor's transfer spending path
// (internal/executor.applyTransfer) for operator-initiated transfers that
// did not originate from a rule: the balance check and both leg writes
// happen atomically inside CompleteTransfer rather than as a separate
// precheck here, and negativeAllowed reflects the category's own catalog
// setting instead of being assumed true.
func (s *Server) applyDirectTransfer(ctx context.Context, from, to, category string, amount int64) error {
	id := uuid.New().String()
	transfer := &model.WalletTransfer{ID: id, FromUserID: from, ToUserID: to, PointCategory: category, Amount: amount, Status: model.TransferPending, Timestamp: time.Now().UTC()}
	if err := s.wallets.CreateTransfer(ctx, transfer); err != nil {
		return err
	}

	negativeAllowed := true
	if cat, ok := s.catalog.Snapshot().PointCategories[category]; ok {
		negativeAllowed = cat.NegativeAllowed
	}

	out := &model.WalletTransaction{ID: uuid.New().String(), UserID: from, PointCategory: category, Amount: -amount, Type: model.TxTransferOut, Timestamp: time.Now().UTC(), ReferenceID: id}
	in := &model.WalletTransaction{ID: uuid.New().String(), UserID: to, PointCategory: category, Amount: amount, Type: model.TxTransferIn, Timestamp: time.Now().UTC(), ReferenceID: id}
	if err := s.wallets.CompleteTransfer(ctx, id, out, in, negativeAllowed); err != nil {
		if errors.Is(err, enginerr.ErrNegativeBalance) {
			_ = s.wallets.FailTransfer(ctx, id, "insufficient source balance")
			return enginerr.ErrTransferFailed
		}
		_ = s.wallets.FailTransfer(ctx, id, "transfer write failed")
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
