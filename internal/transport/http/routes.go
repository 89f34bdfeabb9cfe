package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Routes wires the API. realtime serves the websocket channel on /ws and
// may be nil when the process does not own connections.
func Routes(h *Handler, verifier TokenVerifier, realtime http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// after RequestID
	r.Use(RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/kyc", func(r chi.Router) {
		r.Use(Authenticate(verifier))
		r.Post("/submit", h.SubmitKYC)
		r.Get("/status/{jobId}", h.GetKYCStatus)
	})

	if realtime != nil {
		r.Handle("/ws", realtime)
	}

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
