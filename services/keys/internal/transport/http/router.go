package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"keys/internal/auth"
	"keys/internal/dto"
	"keys/internal/observability/metrics"
	"keys/internal/observability/middleware"
	"keys/internal/service"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires up the directory HTTP surface. verifier is optional: when
// non-nil, mutating endpoints require a bearer token the auth service
// vouches for.
func NewRouter(svc *service.Service, verifier *auth.Client) http.Handler {
	mux := http.NewServeMux()

	requireAuth := func(next http.HandlerFunc) http.HandlerFunc {
		if verifier == nil {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if strings.TrimSpace(token) == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := verifier.Verify(r.Context(), token)
			if err != nil || !claims.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/directory/identity", requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		reqID := middleware.RequestIDFromContext(r.Context())
		traceID := middleware.TraceIDFromContext(r.Context())
		var req dto.RegisterIdentityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			metrics.IdentityRegistrationsTotal.WithLabelValues("failure").Inc()
			slog.Warn("identity registration decode failed", "error", err, "request_id", reqID, "trace_id", traceID)
			return
		}
		res, err := svc.RegisterIdentity(r.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, service.ErrInvalidRequest) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			metrics.IdentityRegistrationsTotal.WithLabelValues("failure").Inc()
			slog.Warn("identity registration failed", "error", err, "request_id", reqID, "trace_id", traceID)
			return
		}
		metrics.IdentityRegistrationsTotal.WithLabelValues("success").Inc()
		slog.Info("identity registered", "user_id", res.UserID, "request_id", reqID, "trace_id", traceID)
		writeJSON(w, http.StatusCreated, res)
	}))

	mux.HandleFunc("/directory/identity/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		reqID := middleware.RequestIDFromContext(r.Context())
		traceID := middleware.TraceIDFromContext(r.Context())
		userIDParam := r.URL.Path[len("/directory/identity/"):]
		userID, err := uuid.Parse(userIDParam)
		if err != nil {
			http.Error(w, "invalid user id", http.StatusBadRequest)
			return
		}
		res, err := svc.GetIdentity(r.Context(), userID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, service.ErrIdentityNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			slog.Warn("identity lookup failed", "error", err, "user_id", userID, "request_id", reqID, "trace_id", traceID)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("/directory/invite", func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.RequestIDFromContext(r.Context())
		traceID := middleware.TraceIDFromContext(r.Context())

		switch r.Method {
		case http.MethodPut, http.MethodPost:
			publish := requireAuth(func(w http.ResponseWriter, r *http.Request) {
				var req dto.PublishInviteDiscoveryRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					metrics.InviteDiscoveriesPublishedTotal.WithLabelValues("failure").Inc()
					slog.Warn("invite discovery decode failed", "error", err, "request_id", reqID, "trace_id", traceID)
					return
				}
				res, err := svc.PublishInviteDiscovery(r.Context(), req)
				if err != nil {
					status := http.StatusInternalServerError
					if errors.Is(err, service.ErrInvalidRequest) {
						status = http.StatusBadRequest
					}
					http.Error(w, err.Error(), status)
					metrics.InviteDiscoveriesPublishedTotal.WithLabelValues("failure").Inc()
					slog.Warn("invite discovery publish failed", "error", err, "request_id", reqID, "trace_id", traceID)
					return
				}
				metrics.InviteDiscoveriesPublishedTotal.WithLabelValues("success").Inc()
				slog.Info("invite discovery published", "inviter_key", res.InviterKey, "d_tag", res.DTag, "request_id", reqID, "trace_id", traceID)
				writeJSON(w, http.StatusOK, res)
			})
			publish(w, r)

		case http.MethodGet:
			inviterKey := r.URL.Query().Get("inviter")
			dTag := r.URL.Query().Get("d")
			if inviterKey == "" {
				http.Error(w, "missing inviter", http.StatusBadRequest)
				metrics.InviteDiscoveriesFetchedTotal.WithLabelValues("failure").Inc()
				return
			}
			res, err := svc.GetInviteDiscovery(r.Context(), inviterKey, dTag)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, service.ErrInviteNotFound) {
					status = http.StatusNotFound
				}
				http.Error(w, err.Error(), status)
				metrics.InviteDiscoveriesFetchedTotal.WithLabelValues("failure").Inc()
				slog.Warn("invite discovery fetch failed", "error", err, "inviter_key", inviterKey, "d_tag", dTag, "request_id", reqID, "trace_id", traceID)
				return
			}
			metrics.InviteDiscoveriesFetchedTotal.WithLabelValues("success").Inc()
			writeJSON(w, http.StatusOK, res)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	return middleware.WithRequestAndTrace(middleware.WithMetrics(mux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
