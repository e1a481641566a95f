package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mobilize-crm/pipeline-service/internal/core/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// errorResponse is the wire shape for every failure.
type errorResponse struct {
	Error domain.Error `json:"error"`
}

// writeError maps a domain error to its status code. Expected conditions
// (not found, conflicts, bad input) ride the request log; everything else
// is logged at error level.
func writeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	e := domain.AsError(err)
	AddError(ctx, err)
	if !e.Expected() {
		logger.Error("request failed",
			slog.String("request_id", GetRequestID(ctx)),
			slog.String("error_type", string(e.Type)),
			slog.String("error", err.Error()))
	}
	writeJSON(w, e.HTTPStatusCode(), errorResponse{Error: *e})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidArgument("invalid JSON body: " + err.Error())
	}
	return nil
}
