package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"marketplace-auth/internal/middleware"
	"marketplace-auth/internal/model"
	"marketplace-auth/internal/service"
	"marketplace-auth/pkg/apierror"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(service *service.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	out, err := h.service.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, out)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	out, err := h.service.Register(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, out)
}

func (h *AuthHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, service.FlowLogin)
}

func (h *AuthHandler) VerifyRegister(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, service.FlowRegister)
}

func (h *AuthHandler) verify(w http.ResponseWriter, r *http.Request, flow service.Flow) {
	var payload model.VerifyOTPRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	tokens, err := h.service.VerifyOTP(r.Context(), flow, payload.Email, payload.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tokens)
}

func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var payload model.ResendOTPRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	if err := h.service.ResendOTP(r.Context(), payload.Email, payload.Password); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.OKResponse{OK: true})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload model.RefreshRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	payload.RefreshToken = strings.TrimSpace(payload.RefreshToken)
	if payload.RefreshToken == "" {
		writeError(w, apierror.New(apierror.CodeBadRequest, "refreshToken is required", "refreshToken", http.StatusBadRequest))
		return
	}

	tokens, err := h.service.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tokens)
}

func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	var payload model.GoogleLoginRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	out, err := h.service.LoginWithGoogle(r.Context(), payload.IDToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, out)
}

func (h *AuthHandler) GoogleRole(w http.ResponseWriter, r *http.Request) {
	var payload model.GoogleRoleRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	if strings.TrimSpace(payload.UserID) == "" {
		writeError(w, apierror.New(apierror.CodeBadRequest, "userId is required", "userId", http.StatusBadRequest))
		return
	}

	out, err := h.service.CompleteGoogleRole(r.Context(), payload.UserID, payload.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, out)
}

// Logout revokes the given refresh token, or every token of the caller when
// none is sent.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}

	var payload model.RefreshRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &payload) {
			return
		}
	}

	if err := h.service.Logout(r.Context(), claims.UserID, strings.TrimSpace(payload.RefreshToken)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.OKResponse{OK: true})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apierror.New(apierror.CodeBadRequest, "invalid JSON body", "", http.StatusBadRequest))
		return false
	}
	return true
}
