package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/repository"
	"telegram-vpn-shop/internal/infra/logging"
	"telegram-vpn-shop/internal/infra/sched"
	"telegram-vpn-shop/internal/usecase"
)

// Syncer is the slice of the reconciler the operator endpoint needs.
type Syncer interface {
	TriggerSync(ctx context.Context, trigger string) (*sched.SyncReport, error)
}

// Server exposes the payment webhook, the operator endpoints and the
// observability surface. The webhook is the only unauthenticated mutating
// route; its caller is trusted at the network layer and every request is
// idempotent downstream.
type Server struct {
	finalizer usecase.FinalizeUseCase
	admin     usecase.AdminUseCase
	audits    repository.AuditRepository
	syncer    Syncer
	auth      *AuthManager
	log       *zerolog.Logger
}

func NewServer(
	finalizer usecase.FinalizeUseCase,
	admin usecase.AdminUseCase,
	audits repository.AuditRepository,
	syncer Syncer,
	auth *AuthManager,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{finalizer: finalizer, admin: admin, audits: audits, syncer: syncer, auth: auth, log: &l}
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID())
	r.Use(Recover(s.log))
	r.Use(RequestLog(s.log))
	r.Use(Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireAdmin())
			r.Post("/admin/subscribers/{id}/grant", s.handleGrant)
			r.Post("/admin/subscribers/{id}/revoke", s.handleRevoke)
			r.Post("/admin/subscribers/{id}/reissue", s.handleReissue)
			r.Get("/admin/audit", s.handleAudit)
			r.Post("/ops/sync", s.handleSync)
		})
	})
	return r
}

type webhookRequest struct {
	Provider         string `json:"provider"`
	ProviderChargeID string `json:"provider_charge_id"`
	Amount           int64  `json:"amount"`
	Payload          string `json:"payload"`
}

type webhookResponse struct {
	Outcome           string `json:"outcome"`
	PaymentID         string `json:"payment_id"`
	SubscriberID      int64  `json:"subscriber_id"`
	ExpiresAt         string `json:"expires_at,omitempty"`
	ActivationPending bool   `json:"activation_pending"`
	Renewal           bool   `json:"renewal"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.Provider == "" || req.ProviderChargeID == "" {
		writeError(w, http.StatusBadRequest, "provider and provider_charge_id are required")
		return
	}

	res, err := s.finalizer.Finalize(r.Context(), model.PaymentEvent{
		Provider:         req.Provider,
		ProviderChargeID: req.ProviderChargeID,
		Amount:           req.Amount,
		Payload:          req.Payload,
	})
	if err != nil {
		s.writeFinalizeError(w, r, err)
		return
	}

	resp := webhookResponse{
		Outcome:           string(res.Outcome),
		PaymentID:         res.PaymentID,
		SubscriberID:      res.SubscriberID,
		ActivationPending: res.ActivationPending,
		Renewal:           res.IsRenewal,
	}
	if !res.SubscriptionExpiresAt.IsZero() {
		resp.ExpiresAt = res.SubscriptionExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeFinalizeError maps finalizer failures to webhook statuses. 409 and 422
// tell the provider not to retry; 5xx invites a redelivery, which the
// idempotency anchor makes safe.
func (s *Server) writeFinalizeError(w http.ResponseWriter, r *http.Request, err error) {
	l := logging.With(r.Context(), s.log)
	switch {
	case errors.Is(err, domain.ErrAlreadyProcessing):
		writeError(w, http.StatusConflict, "charge is being processed")
	case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, domain.ErrAmountMismatch):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrStaleContext):
		writeError(w, http.StatusUnprocessableEntity, "purchase context expired")
	case errors.Is(err, domain.ErrPromoExhausted), errors.Is(err, domain.ErrPromoInactive):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		l.Error().Err(err).Msg("payment finalization failed")
		writeError(w, http.StatusInternalServerError, "finalization failed")
	}
}

type grantRequest struct {
	Days int `json:"days"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberParam(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Days <= 0 {
		writeError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}

	sub, err := s.admin.GrantAccess(r.Context(), id, time.Duration(req.Days)*24*time.Hour, ActorID(r.Context()))
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriber_id":      sub.SubscriberID,
		"expires_at":         sub.ExpiresAt.UTC().Format(time.RFC3339),
		"activation_pending": sub.ActivationStatus == model.ActivationPending,
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberParam(w, r)
	if !ok {
		return
	}
	if err := s.admin.RevokeAccess(r.Context(), id, ActorID(r.Context())); err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriber_id": id, "revoked": true})
}

func (s *Server) handleReissue(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberParam(w, r)
	if !ok {
		return
	}
	km, err := s.admin.ReissueKey(r.Context(), id, ActorID(r.Context()))
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriber_id": id, "key_id": km.KeyID})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	recs, err := s.audits.ListRecent(r.Context(), repository.NoTX, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit lookup failed")
		return
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, map[string]any{
			"id":         rec.ID,
			"action":     string(rec.Action),
			"actor":      rec.Actor,
			"target":     rec.Target,
			"detail":     rec.Detail,
			"created_at": rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.syncer.TriggerSync(r.Context(), "manual")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	rec := &model.AuditRecord{
		ID:        uuid.NewString(),
		Action:    model.AuditForcedSync,
		Actor:     ActorID(r.Context()),
		Detail:    fmt.Sprintf("total=%d synced=%d failed=%d", report.Total, report.Synced, report.Failed),
		CreatedAt: time.Now(),
	}
	if err := s.audits.Append(r.Context(), repository.NoTX, rec); err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("failed to record forced sync")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       report.Total,
		"synced":      report.Synced,
		"failed":      report.Failed,
		"duration_ms": report.Duration.Milliseconds(),
	})
}

func (s *Server) writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	l := logging.With(r.Context(), s.log)
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoActiveSubscription):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrLockBusy):
		writeError(w, http.StatusConflict, "subscriber operation already in progress")
	case errors.Is(err, domain.ErrProvisioning):
		writeError(w, http.StatusBadGateway, "control-plane call failed")
	default:
		l.Error().Err(err).Msg("admin operation failed")
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

func subscriberParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid subscriber id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
