package httpserver

import "net/http"

// Routes aggregates handlers for the status server.
type Routes struct {
	Health http.HandlerFunc
	Status http.HandlerFunc
	Events http.HandlerFunc
	// Protect wraps operator-only routes; nil leaves them open.
	Protect func(http.Handler) http.Handler
}

// NewRouter registers the status and event routes.
func NewRouter(routes Routes) http.Handler {
	protect := routes.Protect
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}

	mux := http.NewServeMux()
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Status != nil {
		mux.Handle("/status", protect(method(http.MethodGet, routes.Status)))
	}
	if routes.Events != nil {
		mux.Handle("/ws/events", protect(method(http.MethodGet, routes.Events)))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
