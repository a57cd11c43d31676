package httpserver

import "net/http"

// Routes groups HTTP handlers.
type Routes struct {
	Hold    http.HandlerFunc
	Ack     http.HandlerFunc
	Confirm http.HandlerFunc
	Refund  http.HandlerFunc
	Pay     http.HandlerFunc
	Sweep   http.HandlerFunc

	Send     http.HandlerFunc
	Forward  http.HandlerFunc
	Cron     http.HandlerFunc
	Purchase http.HandlerFunc

	Health  http.HandlerFunc
	Metrics http.Handler
}

// NewRouter registers service endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()

	post := func(pattern string, handler http.HandlerFunc) {
		if handler != nil {
			mux.Handle(pattern, method(http.MethodPost, handler))
		}
	}

	post("/ledger/hold", routes.Hold)
	post("/ledger/ack", routes.Ack)
	post("/ledger/confirm", routes.Confirm)
	post("/ledger/refund", routes.Refund)
	post("/ledger/pay", routes.Pay)
	post("/ledger/sweep", routes.Sweep)

	post("/messages/send", routes.Send)
	post("/messages/forward", routes.Forward)
	post("/messages/cron", routes.Cron)

	post("/connectors/purchase", routes.Purchase)

	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
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
