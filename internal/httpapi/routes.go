package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/mission-game-backend/internal/hub"
	"github.com/DoyleJ11/mission-game-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, logger *zap.Logger, wsOpts ws.Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, logger.Named("ws"), wsOpts))

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", CreateRoom(h, logger))
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/state", GetState(h))
			r.Post("/players", JoinRoom(h))
			r.Post("/actions", SubmitAction(h))
			r.Delete("/", CloseRoom(h))
		})
	})
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
