// Package api contains the HTTP handlers for push subscriptions and webhooks.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

const maxBodyBytes = 64 << 10

// authenticatedUser reads the caller's subject set by the JWT middleware.
func authenticatedUser(r *http.Request) (urn.URN, error) {
	var none urn.URN
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok || userID == "" {
		return none, dispatch.ErrUnauthorized
	}
	userURN, err := urn.Parse(userID)
	if err != nil {
		return none, dispatch.ErrUnauthorized
	}
	return userURN, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dest); err != nil {
		return dispatch.Invalid("body", "invalid json")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the dispatch error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var verr *dispatch.ValidationError
	switch {
	case errors.As(err, &verr):
		response.WriteJSONError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, dispatch.ErrValidation):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrUnauthorized):
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, dispatch.ErrNotFound):
		response.WriteJSONError(w, http.StatusNotFound, "not found")
	default:
		logger.Error(op+" failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
