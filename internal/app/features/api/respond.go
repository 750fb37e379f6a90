// internal/app/features/api/respond.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dalemusser/askaway/internal/app/system/apperr"
	"go.uber.org/zap"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and body. Errors that are not an
// *apperr.Error are reported as a generic internal failure. KindFatal is
// logged at Error once by the service that raised it, so it stays at Warn here.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Internal(err)
	}

	switch ae.Kind {
	case apperr.KindInternal:
		log.Error("request failed", zap.String("code", ae.Code), zap.Error(err))
	case apperr.KindTransient, apperr.KindReverted, apperr.KindFatal:
		log.Warn("request failed", zap.String("code", ae.Code), zap.Error(err))
	}

	writeJSON(w, apperr.HTTPStatus(ae.Kind), errorBody{Code: ae.Code, Message: ae.Message})
}
