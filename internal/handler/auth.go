package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bosted-app/backend/internal/logging"
	"github.com/bosted-app/backend/internal/model"
	"github.com/bosted-app/backend/internal/service"
)

// CookieConfig describes the HttpOnly cookie mirroring the refresh token.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   int
}

type AuthHandler struct {
	svc    *service.AuthService
	cookie CookieConfig
	log    *slog.Logger
}

func NewAuthHandler(svc *service.AuthService, cookie CookieConfig, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = logging.Discard()
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	if cookie.MaxAge == 0 {
		cookie.MaxAge = int(svc.RefreshTTL().Seconds())
	}
	return &AuthHandler{svc: svc, cookie: cookie, log: log}
}

// Login godoc
// @Summary Login
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.LoginRequest true "Email and password"
// @Success 200 {object} model.LoginResponse
// @Failure 400 {object} model.ValidationErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	res, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(c, h.log, err)
		return
	}

	h.setRefreshCookie(c, res.Tokens.RefreshToken)
	c.JSON(http.StatusOK, model.LoginResponse{
		Token:        res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		ExpiresIn:    int64(h.svc.AccessTTL().Seconds()),
		User:         res.User,
	})
}

// Register godoc
// @Summary Register a new user
// @Description Creates the account only; the client logs in afterwards.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.RegisterRequest true "Profile, password and role"
// @Success 200 {object} model.PublicUser
// @Failure 400 {object} model.ValidationErrorResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	user, err := h.svc.Register(c.Request.Context(), model.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		TenantID:  req.BostedID,
	})
	if err != nil {
		writeAuthError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Refresh godoc
// @Summary Exchange a refresh token
// @Description Reads refreshToken from the body, falling back to the refresh cookie. The presented token is spent.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.RefreshRequest false "Refresh token"
// @Success 200 {object} model.RefreshResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req model.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBindError(c, err)
		return
	}
	refreshToken := req.RefreshToken
	if refreshToken == "" {
		refreshToken, _ = c.Cookie(h.cookie.Name)
	}
	if refreshToken == "" {
		c.JSON(http.StatusBadRequest, model.ValidationErrorResponse{
			Error:  service.ErrValidationFailed.Error(),
			Fields: map[string]string{"refreshToken": "is required"},
		})
		return
	}

	pair, err := h.svc.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			err = service.ErrUnauthorized
		}
		if errors.Is(err, service.ErrUnauthorized) {
			h.clearRefreshCookie(c)
		}
		writeAuthError(c, h.log, err)
		return
	}

	h.setRefreshCookie(c, pair.RefreshToken)
	c.JSON(http.StatusOK, model.RefreshResponse{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(h.svc.AccessTTL().Seconds()),
	})
}

// Logout godoc
// @Summary Logout
// @Description Revokes the presented refresh token (body or cookie) and clears the cookie.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.LogoutRequest false "Refresh token"
// @Success 200 {object} model.AuthLogoutResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req model.LogoutRequest
	_ = c.ShouldBindJSON(&req)
	refreshToken := req.RefreshToken
	if refreshToken == "" {
		refreshToken, _ = c.Cookie(h.cookie.Name)
	}

	if err := h.svc.Logout(c.Request.Context(), refreshToken); err != nil {
		writeAuthError(c, h.log, err)
		return
	}
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, model.AuthLogoutResponse{Status: "logged_out"})
}

// ChangePassword godoc
// @Summary Change password
// @Description Verifies the current password, stores the new one and revokes every refresh token of the account.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.ChangePasswordRequest true "Email, current and new password"
// @Success 200 {object} model.StatusResponse
// @Failure 400 {object} model.ValidationErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /api/v1/auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req model.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	err := h.svc.ChangePassword(c.Request.Context(), req.Email, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: service.ErrInvalidCredentials.Error()})
			return
		}
		writeAuthError(c, h.log, err)
		return
	}
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, model.StatusResponse{Status: "password_changed"})
}

// LogoutAll godoc
// @Summary Logout everywhere
// @Description Revokes every refresh token of the calling user.
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.RevokeSessionsResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /api/v1/auth/logout-all [post]
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}
	n, err := h.svc.LogoutAll(c.Request.Context(), user.ID)
	if err != nil {
		writeAuthError(c, h.log, err)
		return
	}
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, model.RevokeSessionsResponse{Status: "revoked", Revoked: n})
}

// RevokeSessions godoc
// @Summary Revoke a user's sessions
// @Description Admin may target any user; Staff only users of their own facility.
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} model.RevokeSessionsResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /api/v1/auth/users/{id}/revoke-sessions [post]
func (h *AuthHandler) RevokeSessions(c *gin.Context) {
	actor := GetAuthUser(c)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}
	n, err := h.svc.RevokeUserSessions(c.Request.Context(), *actor, c.Param("id"))
	if err != nil {
		writeAuthError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, model.RevokeSessionsResponse{Status: "revoked", Revoked: n})
}

// Me godoc
// @Summary Get current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.AuthMeResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, model.AuthMeResponse{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role.String(),
		BostedID: user.TenantID,
	})
}

// TenantAccess godoc
// @Summary Check facility access
// @Description Succeeds when the bearer token may act inside the given facility.
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Param bostedId path int true "Facility ID"
// @Success 200 {object} model.StatusResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Router /api/v1/auth/bosted/{bostedId}/access [get]
func (h *AuthHandler) TenantAccess(c *gin.Context) {
	c.JSON(http.StatusOK, model.StatusResponse{Status: "ok"})
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	if h.cookie.Name == "" {
		return
	}
	c.SetSameSite(h.cookie.SameSite)
	c.SetCookie(h.cookie.Name, token, h.cookie.MaxAge, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	if h.cookie.Name == "" {
		return
	}
	c.SetSameSite(h.cookie.SameSite)
	c.SetCookie(h.cookie.Name, "", -1, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}
