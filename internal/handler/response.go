package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"marketplace-auth/internal/model"
	"marketplace-auth/pkg/apierror"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// sentinelErrors is checked in order; the first match wins.
var sentinelErrors = []errorMapping{
	{model.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND", "User not found"},
	{model.ErrUserAlreadyExists, http.StatusConflict, "ALREADY_EXISTS", "An account with this email already exists"},
	{model.ErrUnauthorized, http.StatusUnauthorized, apierror.CodeUnauthorized, "Authentication required"},
	{model.ErrTokenNotFound, http.StatusUnauthorized, apierror.CodeUnauthorized, "Invalid or expired token"},
	{model.ErrTokenExpired, http.StatusUnauthorized, apierror.CodeUnauthorized, "Invalid or expired token"},
	{model.ErrRoleNotGranted, http.StatusForbidden, "ROLE_NOT_GRANTED", "You do not have this role"},
	{model.ErrInvalidInput, http.StatusBadRequest, apierror.CodeBadRequest, "Invalid input"},
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, model.APIResponse{
		Success: true,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	writeJSON(w, status, model.APIResponse{
		Success: false,
		Error:   body,
	})
}

func classify(err error) (int, *model.APIError) {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus, &model.APIError{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		}
	}

	for _, m := range sentinelErrors {
		if errors.Is(err, m.target) {
			return m.status, &model.APIError{Code: m.code, Message: m.message}
		}
	}

	slog.Error("unhandled error in writeError", "error", err)
	return http.StatusInternalServerError, &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}
}

func writeJSON(w http.ResponseWriter, status int, body model.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
