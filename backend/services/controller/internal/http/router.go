package httpserver

import "net/http"

// Routes defines HTTP endpoints.
type Routes struct {
	Stations       http.Handler
	Controllers    http.Handler
	Orders         http.Handler
	NetworkRefresh http.Handler
	Health         http.Handler
	Metrics        http.Handler
	WS             http.Handler
}

// NewRouter sets up HTTP routing.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Stations != nil {
		mux.Handle("/stations", method(http.MethodGet, routes.Stations.ServeHTTP))
	}
	if routes.Controllers != nil {
		mux.Handle("/controllers", method(http.MethodGet, routes.Controllers.ServeHTTP))
	}
	if routes.Orders != nil {
		mux.Handle("/orders", method(http.MethodPost, routes.Orders.ServeHTTP))
	}
	if routes.NetworkRefresh != nil {
		mux.Handle("/network/refresh", method(http.MethodPost, routes.NetworkRefresh.ServeHTTP))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health.ServeHTTP))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}
	if routes.WS != nil {
		mux.Handle("/ws", routes.WS)
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
