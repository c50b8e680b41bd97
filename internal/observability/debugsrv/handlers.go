package debugsrv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"gcpacer/internal/appstate"
	"gcpacer/internal/collector"
	"gcpacer/internal/gcsched"
	rtsup "gcpacer/internal/runtime/supervisor"
	"gcpacer/internal/storage"
	"gcpacer/internal/workload"
)

const (
	gcschedPath         = "/debug/gcsched"
	defaultRecentLimit  = 50
	storeQueryTimeout   = 3 * time.Second
	maxAppStateBodySize = 64
)

// Sources is what the introspection endpoints read. Nil fields are
// reported as absent.
type Sources struct {
	Scheduler  *gcsched.Scheduler
	Collector  *collector.Collector
	Workload   *workload.Workload
	AppState   *appstate.Tracker
	Store      storage.Store
	Supervisor *rtsup.Supervisor
	RunID      string
}

// Status is the /debug/gcsched document.
type Status struct {
	Run        string           `json:"run,omitempty"`
	AppState   string           `json:"app_state,omitempty"`
	Scheduler  *gcsched.Stats   `json:"scheduler,omitempty"`
	Collector  *collector.Stats `json:"collector,omitempty"`
	Workload   *workload.Stats  `json:"workload,omitempty"`
	Goroutines *rtsup.Snapshot  `json:"goroutines,omitempty"`
}

func (src Sources) status() Status {
	st := Status{Run: src.RunID}
	if src.AppState != nil {
		st.AppState = src.AppState.State().String()
	}
	if src.Scheduler != nil {
		v := src.Scheduler.Stats()
		st.Scheduler = &v
	}
	if src.Collector != nil {
		v := src.Collector.Stats()
		st.Collector = &v
	}
	if src.Workload != nil {
		v := src.Workload.Stats()
		st.Workload = &v
	}
	if src.Supervisor != nil {
		v := src.Supervisor.Snapshot()
		st.Goroutines = &v
	}
	return st
}

func (s *Service) handler(cur Config) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cur.Token, h) }
	s.mu.Lock()
	src := s.src
	s.mu.Unlock()

	mux.HandleFunc("GET /healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		if src.Supervisor != nil {
			if err := src.Supervisor.Err(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	}))

	mux.HandleFunc("GET "+gcschedPath, wrap(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.status())
	}))

	mux.HandleFunc("POST "+gcschedPath+"/collect", wrap(func(w http.ResponseWriter, r *http.Request) {
		if src.Scheduler == nil {
			http.Error(w, "scheduler not running", http.StatusServiceUnavailable)
			return
		}
		src.Scheduler.RequestCollection()
		w.WriteHeader(http.StatusAccepted)
	}))

	mux.HandleFunc("GET "+gcschedPath+"/appstate", wrap(func(w http.ResponseWriter, r *http.Request) {
		if src.AppState == nil {
			http.Error(w, "app state not tracked", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": src.AppState.State().String()})
	}))

	// POST body or ?state= selects foreground|background.
	mux.HandleFunc("POST "+gcschedPath+"/appstate", wrap(func(w http.ResponseWriter, r *http.Request) {
		if src.AppState == nil {
			http.Error(w, "app state not tracked", http.StatusNotFound)
			return
		}
		raw := r.URL.Query().Get("state")
		if raw == "" {
			b, _ := io.ReadAll(io.LimitReader(r.Body, maxAppStateBodySize))
			raw = strings.TrimSpace(string(b))
		}
		state, err := appstate.ParseState(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		changed := src.AppState.Set(state)
		if changed {
			s.log.Info("app state changed via debug server")
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": state.String(), "changed": changed})
	}))

	mux.HandleFunc("GET "+gcschedPath+"/collections", wrap(func(w http.ResponseWriter, r *http.Request) {
		if src.Store == nil {
			http.Error(w, storage.ErrDisabled.Error(), http.StatusNotFound)
			return
		}
		limit := defaultRecentLimit
		if q := r.URL.Query().Get("limit"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		ctx, cancel := context.WithTimeout(r.Context(), storeQueryTimeout)
		defer cancel()
		recs, err := src.Store.RecentCollections(ctx, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []storage.CollectionRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	}))

	// pprof endpoints under prefix.
	prefix := normalizePrefix(cur.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	mux.HandleFunc(prefix, wrap(pprofIndexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", wrap(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", wrap(hpprof.Trace))
	if base != "" {
		mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
		})
	}

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// pprof.Index assumes requests are rooted at /debug/pprof/, so custom
// prefixes are rewritten before calling it.
func pprofIndexAt(prefix string) http.HandlerFunc {
	canon := normalizePrefix(prefix)
	return func(w http.ResponseWriter, r *http.Request) {
		suffix := strings.TrimPrefix(r.URL.Path, canon)
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + suffix
		hpprof.Index(w, r2)
	}
}
