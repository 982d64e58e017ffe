// Package api exposes event recording and threat analysis over HTTP JSON.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"argus/audit"
	"argus/config"
	"argus/detect"
	"argus/storage"
	"argus/util/goroutine"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a per-client rate limiter with last seen time.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API is the HTTP server for the Argus service.
type API struct {
	recorder     *audit.Recorder
	evaluator    *detect.Evaluator
	eventStorage storage.EventStorageInterface
	ruleStorage  storage.RuleStorageInterface
	config       *config.Config
	logger       *zap.SugaredLogger
	validate     *validator.Validate

	router *mux.Router
	server *http.Server

	limiterMu sync.Mutex
	limiters  map[string]*rateLimiterEntry

	stopCh chan struct{}
}

// NewAPI creates the API server and registers all routes.
func NewAPI(
	recorder *audit.Recorder,
	evaluator *detect.Evaluator,
	eventStorage storage.EventStorageInterface,
	ruleStorage storage.RuleStorageInterface,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *API {
	a := &API{
		recorder:     recorder,
		evaluator:    evaluator,
		eventStorage: eventStorage,
		ruleStorage:  ruleStorage,
		config:       cfg,
		logger:       logger,
		validate:     validator.New(),
		router:       mux.NewRouter(),
		limiters:     make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}

	a.setupRoutes()
	a.startLimiterCleanup()
	return a
}

func (a *API) setupRoutes() {
	a.router.Use(a.rateLimitMiddleware)

	a.router.HandleFunc("/api/events", a.logEvent).Methods("POST")
	a.router.HandleFunc("/api/events", a.getEvents).Methods("GET")
	a.router.HandleFunc("/api/events/analyze", a.analyzeEvent).Methods("POST")
	a.router.HandleFunc("/api/events/{id}/false-positive", a.setFalsePositive).Methods("POST")
	a.router.HandleFunc("/api/rules", a.getRules).Methods("GET")
	a.router.HandleFunc("/api/rules", a.createRule).Methods("POST")
	a.router.HandleFunc("/api/rules/{id}", a.getRule).Methods("GET")
	a.router.HandleFunc("/api/rules/{id}", a.updateRule).Methods("PUT")
	a.router.HandleFunc("/api/rules/{id}", a.deleteRule).Methods("DELETE")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// rateLimitMiddleware enforces per-client-IP request limits.
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		a.limiterMu.Lock()
		entry, ok := a.limiters[ip]
		if !ok {
			entry = &rateLimiterEntry{
				limiter: rate.NewLimiter(
					rate.Limit(a.config.API.RateLimit.RequestsPerSecond),
					a.config.API.RateLimit.Burst),
			}
			a.limiters[ip] = entry
		}
		entry.lastSeen = time.Now()
		a.limiterMu.Unlock()

		if !entry.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", nil, a.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// startLimiterCleanup evicts rate limiter entries not seen for 10 minutes.
func (a *API) startLimiterCleanup() {
	go func() {
		defer goroutine.Recover("api-limiter-cleanup", a.logger)

		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().Add(-10 * time.Minute)
				a.limiterMu.Lock()
				for ip, entry := range a.limiters {
					if entry.lastSeen.Before(cutoff) {
						delete(a.limiters, ip)
					}
				}
				a.limiterMu.Unlock()
			case <-a.stopCh:
				return
			}
		}
	}()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Start runs the HTTP server until it is shut down.
func (a *API) Start() error {
	addr := fmt.Sprintf("%s:%d", a.config.API.Host, a.config.API.Port)
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.logger.Infow("API server listening", "addr", addr)
	return a.server.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (a *API) Handler() http.Handler {
	return a.router
}
