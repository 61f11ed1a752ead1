package httpserver

import "net/http"

// Routes defines HTTP endpoints.
type Routes struct {
	State      http.Handler
	Start      http.Handler
	Select     http.Handler
	Dismiss    http.Handler
	Reannounce http.Handler
	Health     http.Handler
}

// NewRouter sets up HTTP routing.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.State != nil {
		mux.Handle("/state", method(http.MethodGet, routes.State.ServeHTTP))
	}
	if routes.Start != nil {
		mux.Handle("/orders/start", method(http.MethodPost, routes.Start.ServeHTTP))
	}
	if routes.Select != nil {
		mux.Handle("/orders/select", method(http.MethodPost, routes.Select.ServeHTTP))
	}
	if routes.Dismiss != nil {
		mux.Handle("/orders/dismiss", method(http.MethodPost, routes.Dismiss.ServeHTTP))
	}
	if routes.Reannounce != nil {
		mux.Handle("/reannounce", method(http.MethodPost, routes.Reannounce.ServeHTTP))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health.ServeHTTP))
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
