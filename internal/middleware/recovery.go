package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// RecoverFromPanic вызывается через defer в обработчиках апдейтов и cron-задачах.
func RecoverFromPanic(component string) {
	if r := recover(); r != nil {
		logPanic(component, r)
	}
}

// Recoverer — HTTP-вариант: логирует панику и отвечает 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logPanic("http "+r.Method+" "+r.URL.Path, rec)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"внутренняя ошибка"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func logPanic(component string, r any) {
	log.WithFields(log.Fields{
		"component": component,
		"panic":     fmt.Sprintf("%v", r),
		"stack":     string(debug.Stack()),
	}).Error("ПАНИКА в обработчике — восстановлено")
}
