package handler

import (
	"net/http"
	"strings"

	"marketplace-auth/internal/middleware"
	"marketplace-auth/internal/model"
	"marketplace-auth/internal/service"
	"marketplace-auth/pkg/apierror"
)

type UserHandler struct {
	service *service.AuthService
}

func NewUserHandler(service *service.AuthService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}

	user, err := h.service.CurrentUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user)
}

func (h *UserHandler) SwitchRole(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("newRole"))
	role, valid := model.ParseRole(raw)
	if !valid {
		writeError(w, apierror.New(apierror.CodeBadRequest, "newRole must be CLIENT, FREELANCER or ADMIN", raw, http.StatusBadRequest))
		return
	}

	user, err := h.service.SwitchRole(r.Context(), claims.UserID, role)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user)
}
