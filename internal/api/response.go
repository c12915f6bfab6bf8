package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/email"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/sheet"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/workflow"
)

const startPath = "/"

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data     any        `json:"data,omitempty"`
	Error    *errorBody `json:"error,omitempty"`
	Redirect string     `json:"redirect,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Data: data})
}

// fail converts a workflow error into the JSON envelope. Every error sends
// the operator back to the start of the workflow.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {

	status, code, message := classify(err)

	if status == http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	} else {
		h.Log.Info("request rejected",
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
	}

	writeJSON(w, status, apiResponse{
		Error:    &errorBody{Code: code, Message: message},
		Redirect: startPath,
	})
}

func classify(err error) (status int, code, message string) {
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "too_large", "El archivo supera el tamaño máximo permitido"
	case errors.Is(err, workflow.ErrValidation):
		return http.StatusUnprocessableEntity, "validation", err.Error()
	case errors.Is(err, sheet.ErrImport):
		return http.StatusUnprocessableEntity, "import", err.Error()
	case errors.Is(err, workflow.ErrSessionExpired):
		return http.StatusConflict, "session_expired", err.Error()
	case errors.Is(err, email.ErrConnection):
		return http.StatusBadGateway, "smtp_connection", err.Error()
	default:
		return http.StatusInternalServerError, "internal", "Ocurrió un error interno. Intenta nuevamente."
	}
}
