package middleware

import (
	"net/http"
	"time"

	chim "github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"
	"github.com/tomasen/realip"
)

// Logger logs every request with its status, duration and response size.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := chim.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"url":      r.URL.String(),
			"ip":       realip.FromRequest(r),
			"status":   ww.Status(),
			"size":     ww.BytesWritten(),
			"duration": time.Since(start).String(),
		}).Info("request processed")
	})
}
