package http

import (
	"crypto/hmac"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

const adminTokenHeader = "X-Admin-Token"

// AdminTokenMiddleware пропускает запрос только с верным админ-токеном.
// Пустой настроенный токен закрывает админ-маршруты целиком.
func AdminTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "админ-доступ не настроен", http.StatusForbidden)
				return
			}
			got := r.Header.Get(adminTokenHeader)
			if got == "" || !hmac.Equal([]byte(got), []byte(token)) {
				http.Error(w, "неверный админ-токен", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
