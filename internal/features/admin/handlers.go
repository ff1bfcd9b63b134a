// Package admin — handlers.go закрывает админские маршруты HTTP API ключом.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/common"
)

// Handler — HTTP-обёртка над Service.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RequireKey пропускает запрос дальше только с верным X-Admin-Key.
// Источник попытки — RemoteAddr (после chi RealIP).
func (h *Handler) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := h.service.VerifyKey(r.Context(), r.RemoteAddr, r.Header.Get(HeaderKey))
		switch {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, common.ErrTooManyAttempts):
			deny(w, http.StatusTooManyRequests, err)
		case errors.Is(err, common.ErrForbidden):
			deny(w, http.StatusForbidden, err)
		default:
			log.WithError(err).Error("Ошибка проверки ключа администратора")
			deny(w, http.StatusInternalServerError, errors.New("внутренняя ошибка"))
		}
	})
}

func deny(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
}
