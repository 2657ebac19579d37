package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/metrics"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

// NewRouter registers the API routes. Every request is bounded by
// requestTimeout.
func NewRouter(h *Handler, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware, instrumentMiddleware, timeoutMiddleware(requestTimeout))

	router.HandleFunc("/", h.root).Methods("GET")
	router.HandleFunc("/health", h.health).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/account-insights", h.accountInsights).Methods("GET")
	router.HandleFunc("/growth-trends", h.growthTrends).Methods("GET")
	router.HandleFunc("/top-posts", h.topPosts).Methods("GET")

	router.HandleFunc("/digest/latest", h.latestDigest).Methods("GET")
	if h.digests != nil {
		router.HandleFunc("/digest/trigger", h.triggerDigest).Methods("POST")
	}

	return router
}

// RequestID returns the id assigned to the request carrying ctx
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		duration := time.Since(start)
		metrics.APIRequestDuration.WithLabelValues(route, strconv.Itoa(rec.status)).Observe(duration.Seconds())

		logrus.WithFields(logrus.Fields{
			"request_id": RequestID(r.Context()),
			"method":     r.Method,
			"route":      route,
			"status":     rec.status,
			"duration":   duration.String(),
		}).Info("HTTP request")
	})
}

func timeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if timeout <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	kind := errs.KindOf(err)

	if retryAfter := errs.RetryAfterOf(err); status == http.StatusTooManyRequests && retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}

	log := logrus.WithFields(logrus.Fields{
		"request_id": RequestID(r.Context()),
		"kind":       kind.String(),
		"status":     status,
	})
	if status >= http.StatusInternalServerError {
		log.Errorf("Request failed: %v", err)
	} else {
		log.Warnf("Request rejected: %v", err)
	}

	writeJSON(w, status, errorBody{Detail: err.Error(), Error: kind.String()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}
