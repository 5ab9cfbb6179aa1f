package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// Checker is a dependency that can be probed. *pgxpool.Pool satisfies it.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Ping(ctx context.Context) error { return f(ctx) }

type Status struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Checks  map[string]bool `json:"checks,omitempty"`
}

// HTTPHandler returns an HTTP handler that reports the health status of the service
func HTTPHandler(checks map[string]Checker) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}

		if len(names) > 0 {
			st.Checks = make(map[string]bool, len(names))
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			for _, name := range names {
				err := checks[name].Ping(ctx)
				st.Checks[name] = err == nil
				if err != nil && st.OK {
					st.OK = false
					st.Message = name + " ping failed"
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
