package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"marketplace-auth/internal/model"
	"marketplace-auth/pkg/apierror"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

func (s *AuthService) ValidateToken(tokenString string, expectedType string) (*model.AuthClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierror.New(apierror.CodeUnauthorized, "invalid token signing method", "", http.StatusUnauthorized)
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, apierror.New(apierror.CodeUnauthorized, "invalid token", "", http.StatusUnauthorized)
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierror.New(apierror.CodeUnauthorized, "invalid token claims", "", http.StatusUnauthorized)
	}

	typ, _ := claimsMap["typ"].(string)
	if expectedType != "" && typ != expectedType {
		return nil, apierror.New(apierror.CodeUnauthorized, "invalid token type", "", http.StatusUnauthorized)
	}

	claims := &model.AuthClaims{Type: typ}
	claims.UserID, _ = claimsMap["sub"].(string)
	claims.Email, _ = claimsMap["email"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)
	if role, ok := claimsMap["role"].(string); ok {
		claims.Role = model.Role(role)
	}

	if claims.UserID == "" {
		return nil, apierror.New(apierror.CodeUnauthorized, "invalid token subject", "", http.StatusUnauthorized)
	}

	return claims, nil
}

func (s *AuthService) issueTokens(ctx context.Context, account model.Account) (model.AuthTokens, error) {
	now := s.now()
	role := model.ResolveActiveRole(&account.User, "", "")

	base := jwt.MapClaims{
		"sub":   account.ID,
		"email": account.Email,
		"role":  string(role),
		"iat":   now.Unix(),
	}

	accessToken, err := s.signToken(base, tokenTypeAccess, now.Add(s.accessTTL))
	if err != nil {
		return model.AuthTokens{}, err
	}

	refreshExpiry := now.Add(s.refreshTTL)
	refreshToken, err := s.signToken(base, tokenTypeRefresh, refreshExpiry)
	if err != nil {
		return model.AuthTokens{}, err
	}

	if err := s.tokens.Store(ctx, refreshToken, account.ID, refreshExpiry); err != nil {
		return model.AuthTokens{}, err
	}

	return model.AuthTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		UserID:       account.ID,
		Email:        account.Email,
		Roles:        append([]model.Role(nil), account.Roles...),
		ActiveRole:   role,
		IsVerified:   account.IsVerified,
		CreatedAt:    account.CreatedAt,
		UpdatedAt:    account.UpdatedAt,
	}, nil
}

func (s *AuthService) signToken(base jwt.MapClaims, typ string, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"typ": typ,
		"jti": uuid.NewString(),
		"exp": expiresAt.Unix(),
	}
	for k, v := range base {
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type googleIdentity struct {
	Subject    string
	Email      string
	GivenName  string
	FamilyName string
}

// parseGoogleIDToken reads the identity claims of a Google ID token. The
// signature is not verified.
func parseGoogleIDToken(idToken string, now time.Time) (googleIdentity, error) {
	invalid := apierror.New("INVALID_GOOGLE_TOKEN", "Google credential is invalid", "", http.StatusUnauthorized)

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(idToken), claims); err != nil {
		return googleIdentity{}, invalid
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && !now.Before(exp.Time) {
		return googleIdentity{}, apierror.New("INVALID_GOOGLE_TOKEN", "Google credential has expired", "", http.StatusUnauthorized)
	}

	identity := googleIdentity{}
	identity.Subject, _ = claims["sub"].(string)
	identity.Email, _ = claims["email"].(string)
	identity.GivenName, _ = claims["given_name"].(string)
	identity.FamilyName, _ = claims["family_name"].(string)

	if identity.Subject == "" || identity.Email == "" {
		return googleIdentity{}, invalid
	}
	return identity, nil
}
