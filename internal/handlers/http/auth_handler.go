package http

import (
	"net/http"
	"strings"
	"time"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/services"
	"lessonlive/internal/infrastructure/middleware"
	"lessonlive/pkg/errors"
	"lessonlive/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AuthHandler exposes token introspection and lets admins mint tokens for
// service accounts and test users. End-user tokens come from the identity
// provider.
type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

// RegisterRoutes expects AuthMiddleware on the group.
func (h *AuthHandler) RegisterRoutes(api *gin.RouterGroup) {
	auth := api.Group("/auth")
	{
		auth.GET("/me", h.Me)
		auth.POST("/token", middleware.AdminOnly(), h.IssueToken)
	}
}

type IssueTokenRequest struct {
	Identity    domain.Identity `json:"identity" binding:"required"`
	DisplayName string          `json:"display_name"`
	Admin       bool            `json:"admin"`
}

func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"identity":     middleware.Identity(c),
		"display_name": middleware.DisplayName(c),
		"admin":        middleware.IsAdmin(c),
	})
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Identity = domain.Identity(strings.TrimSpace(string(req.Identity)))
	if err := validation.ValidateIdentity(string(req.Identity)); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	name, err := validation.NormalizeDisplayName(req.DisplayName, string(req.Identity))
	if err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	token, err := h.authService.GenerateToken(req.Identity, name, req.Admin)
	if err != nil {
		_ = c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"identity":     req.Identity,
		"access_token": token,
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}
