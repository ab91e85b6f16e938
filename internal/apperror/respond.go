package apperror

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Responder is the single sink that turns handler errors into responses.
type Responder struct {
	Development bool
	Log         *zap.Logger
}

func (rs *Responder) Respond(w http.ResponseWriter, r *http.Request, err error) {
	appErr := Normalize(err)

	log := rs.Log
	if log == nil {
		log = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", appErr.StatusCode),
		zap.String("kind", string(appErr.Kind)),
		zap.Error(appErr.Err),
	}
	if appErr.Operational {
		log.Debug("request failed", fields...)
	} else {
		log.Error("unexpected error", fields...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	json.NewEncoder(w).Encode(appErr.Render(rs.Development))
}
