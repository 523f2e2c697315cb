package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/auth"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/gin-gonic/gin"
)

// Login request/response types
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Role        auth.Role `json:"role"`
	ExpiresIn   int       `json:"expires_in"` // seconds
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	if !s.authService.Enabled() {
		c.JSON(http.StatusConflict, types.NewErrorResponse("AUTH_409", "Authentication is disabled", nil))
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "AUTH_400", err)
		return
	}

	token, role, expires, err := s.authService.Login(req.Password, c.ClientIP())
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid credentials", nil))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("AUTH_500", "Failed to log in", err.Error()))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		Role:        role,
		ExpiresIn:   int(time.Until(expires).Seconds()),
	})
}

// GET /api/v1/auth/me
func (s *Server) getCurrentRole(c *gin.Context) {
	permissions, _ := c.Get("permissions")
	c.JSON(http.StatusOK, gin.H{
		"role":         auth.RoleFrom(c),
		"permissions":  permissions,
		"auth_enabled": s.authService.Enabled(),
	})
}
