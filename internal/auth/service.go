package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/config"
	"go.uber.org/zap"
)

type Role string

const (
	RoleEditor    Role = "editor"
	RolePresenter Role = "presenter"
)

type Permission string

const (
	// PermView reads components, properties and connection state.
	PermView Permission = "view"
	// PermOperate triggers components, runs multis and drives the connection.
	PermOperate Permission = "operate"
	// PermEdit changes components, pages, multi edits and projects.
	PermEdit Permission = "edit"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthService struct {
	enabled    bool
	hashes     map[Role]roleHash
	jwtHandler *JWTHandler
	logger     *zap.Logger
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if cfg.Enabled && !cfg.IsProductionReady() {
		logger.Warn("JWT secret is not production ready")
	}

	hashes := make(map[Role]roleHash)
	for role, encoded := range map[Role]string{
		RoleEditor:    cfg.EditorPasswordHash,
		RolePresenter: cfg.PresenterPasswordHash,
	} {
		if encoded == "" {
			continue
		}
		h, err := parseRoleHash(encoded)
		if err != nil {
			logger.Error("Ignoring unreadable password hash",
				zap.String("role", string(role)),
				zap.Error(err))
			continue
		}
		hashes[role] = h
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	return &AuthService{
		enabled:    cfg.Enabled,
		hashes:     hashes,
		jwtHandler: NewJWTHandler(cfg.GetJWTSecret(), ttl),
		logger:     logger,
	}
}

func (a *AuthService) Enabled() bool { return a.enabled }

// Login checks password against the configured role hashes, editor first,
// and returns a token for the first role that matches.
func (a *AuthService) Login(password, ipAddress string) (token string, role Role, expires time.Time, err error) {
	for _, r := range []Role{RoleEditor, RolePresenter} {
		hash, ok := a.hashes[r]
		if !ok || !hash.matches(password) {
			continue
		}

		token, expires, err := a.jwtHandler.GenerateAccessToken(r)
		if err != nil {
			return "", "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
		}
		a.logger.Info("Login succeeded",
			zap.String("role", string(r)),
			zap.String("ip", ipAddress))
		return token, r, expires, nil
	}

	a.logger.Warn("Login failed", zap.String("ip", ipAddress))
	return "", "", time.Time{}, ErrInvalidCredentials
}

// ValidateToken returns the permissions carried by token.
func (a *AuthService) ValidateToken(token string) (Role, []Permission, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return "", nil, err
	}
	return claims.Role, a.roleToPermissions(claims.Role), nil
}

func (a *AuthService) roleToPermissions(role Role) []Permission {
	switch role {
	case RoleEditor:
		return []Permission{PermView, PermOperate, PermEdit}
	case RolePresenter:
		return []Permission{PermView, PermOperate}
	default:
		return []Permission{}
	}
}
