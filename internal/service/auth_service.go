package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/makkenzo/device-licensing-api/internal/config"
	"github.com/makkenzo/device-licensing-api/internal/domain/admin"
	"github.com/makkenzo/device-licensing-api/internal/ierr"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const defaultAdminTokenTTL = 24 * time.Hour

// AdminClaims identify the operator behind an admin request. AdminID is recorded as the approver
// or reviewer on device and alert decisions.
type AdminClaims struct {
	AdminID  string `json:"admin_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type oidcClaims struct {
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Role              string `json:"role"`
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *admin.User
}

type AuthService struct {
	users    admin.Repository
	secret   []byte
	ttl      time.Duration
	verifier *oidc.IDTokenVerifier
	now      func() time.Time
	logger   *zap.Logger
}

// NewAuthService verifies admin bearer tokens against the OIDC issuer when one is configured and
// otherwise against locally issued HS256 tokens.
func NewAuthService(ctx context.Context, cfg config.AuthConfig, users admin.Repository, logger *zap.Logger) (*AuthService, error) {
	log := logger.Named("AuthService")

	ttl := cfg.JWTTTL
	if ttl <= 0 {
		ttl = defaultAdminTokenTTL
	}

	s := &AuthService{
		users:  users,
		secret: []byte(cfg.JWTSecret),
		ttl:    ttl,
		now:    time.Now,
		logger: log,
	}

	if cfg.OIDCIssuerURL == "" {
		if len(s.secret) == 0 {
			return nil, errors.New("auth.jwtSecret is required when OIDC is not configured")
		}
		log.Info("Admin authentication uses local HS256 tokens")
		return s, nil
	}

	log.Info("Initializing OIDC provider", zap.String("issuer", cfg.OIDCIssuerURL))
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		log.Error("Failed to create OIDC provider", zap.String("issuer", cfg.OIDCIssuerURL), zap.Error(err))
		return nil, fmt.Errorf("oidc provider setup failed: %w", err)
	}

	s.verifier = provider.Verifier(&oidc.Config{
		ClientID:          cfg.OIDCClientID,
		SkipClientIDCheck: cfg.OIDCClientID == "",
	})
	return s, nil
}

// Login checks local operator credentials and issues an HS256 admin token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if s.verifier != nil || s.users == nil {
		return nil, fmt.Errorf("%w: local login is disabled, sign in through the identity provider", ierr.ErrForbidden)
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, admin.ErrUserNotFound) {
			s.logger.Info("Login attempt for unknown admin", zap.String("username", username))
			return nil, ierr.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup admin user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("Login attempt with wrong password", zap.String("username", username))
		return nil, ierr.ErrInvalidCredentials
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &AdminClaims{
		AdminID:  user.ID.String(),
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign admin token: %w", err)
	}

	s.logger.Info("Admin logged in", zap.String("username", user.Username))
	return &LoginResult{Token: signed, ExpiresAt: expiresAt, User: user}, nil
}

func (s *AuthService) ValidateToken(ctx context.Context, rawToken string) (*AdminClaims, error) {
	if s.verifier != nil {
		return s.validateOIDC(ctx, rawToken)
	}

	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		s.logger.Debug("Failed to verify admin token", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ierr.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ierr.ErrInvalidToken
	}
	if claims.AdminID == "" {
		return nil, fmt.Errorf("%w: admin_id is missing", ierr.ErrTokenInvalidClaims)
	}
	return claims, nil
}

func (s *AuthService) validateOIDC(ctx context.Context, rawToken string) (*AdminClaims, error) {
	idToken, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		s.logger.Warn("Failed to verify OIDC token", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ierr.ErrInvalidToken, err)
	}

	var extra oidcClaims
	if err := idToken.Claims(&extra); err != nil {
		s.logger.Error("Failed to extract claims from OIDC token", zap.Error(err))
		return nil, fmt.Errorf("%w: could not unmarshal token claims: %v", ierr.ErrTokenInvalidClaims, err)
	}

	username := extra.PreferredUsername
	if username == "" {
		username = extra.Email
	}

	return &AdminClaims{
		AdminID:  idToken.Subject,
		Username: username,
		Role:     extra.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   idToken.Subject,
			Issuer:    idToken.Issuer,
			ExpiresAt: jwt.NewNumericDate(idToken.Expiry),
			IssuedAt:  jwt.NewNumericDate(idToken.IssuedAt),
		},
	}, nil
}
