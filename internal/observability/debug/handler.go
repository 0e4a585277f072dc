// Package debug serves the optional operator HTTP endpoints: liveness,
// a JSON relay snapshot, Prometheus metrics and pprof.
package debug

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lotebot/internal/relay"
	logx "lotebot/pkg/logx"
)

// Relay is the read side of the scheduler used by /status and /history.
type Relay interface {
	Status() relay.Status
	History(n int) []relay.BatchReport
}

// Sources are what the handler reports on. Nil fields disable their routes.
type Sources struct {
	Relay   Relay
	Metrics http.Handler
}

// NewHandler builds the router. Every route, /healthz included, sits behind
// the token check when token is set.
func NewHandler(token string, pprof bool, src Sources, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, requestLog(log), bearerAuth(token))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if src.Relay != nil {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, src.Relay.Status())
		})
		r.Get("/history", func(w http.ResponseWriter, req *http.Request) {
			n := 0
			if raw := req.URL.Query().Get("n"); raw != "" {
				v, err := strconv.Atoi(raw)
				if err != nil || v < 0 {
					http.Error(w, "n must be a non-negative integer", http.StatusBadRequest)
					return
				}
				n = v
			}
			reps := src.Relay.History(n)
			out := make([]relay.BatchSummary, 0, len(reps))
			for _, rep := range reps {
				out = append(out, relay.Summarize(rep))
			}
			writeJSON(w, http.StatusOK, out)
		})
	}
	if src.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", src.Metrics)
	}
	if pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
					got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
				}
			}
			if got != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("rid", middleware.GetReqID(r.Context())),
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("dur", time.Since(start)),
			)
		})
	}
}
