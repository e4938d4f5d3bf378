package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/utils"
)

// GrantClientCredentials is the only grant type the issuer supports.
const GrantClientCredentials = "client_credentials"

var (
	ErrUnsupportedGrant = errors.New("unsupported grant type")
	ErrInvalidClient    = errors.New("invalid client credentials")
	ErrInvalidToken     = errors.New("invalid or expired token")
)

// OAuthSettings configure the local token issuer.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	JWTSecret    string
	TokenTTL     time.Duration
}

// OAuthService issues and validates client-credentials access tokens.
type OAuthService struct {
	db         *gorm.DB
	clientID   string
	secretHash string
	jwtSecret  string
	ttl        time.Duration
	now        func() time.Time
	log        *zap.Logger
}

// NewOAuthService hashes the configured client secret once; requests are checked
// against the hash.
func NewOAuthService(db *gorm.DB, settings OAuthSettings, log *zap.Logger) (*OAuthService, error) {
	hash, err := utils.HashSecret(settings.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("hash client secret: %w", err)
	}

	ttl := settings.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &OAuthService{
		db:         db,
		clientID:   settings.ClientID,
		secretHash: hash,
		jwtSecret:  settings.JWTSecret,
		ttl:        ttl,
		now:        time.Now,
		log:        log.Named("oauth"),
	}, nil
}

// WithClock replaces the time source.
func (s *OAuthService) WithClock(now func() time.Time) *OAuthService {
	s.now = now
	return s
}

// Issue checks the client credentials and persists a fresh bearer token.
func (s *OAuthService) Issue(ctx context.Context, grantType, clientID, clientSecret string) (*models.OAuthToken, error) {
	if grantType != GrantClientCredentials {
		return nil, ErrUnsupportedGrant
	}
	if subtle.ConstantTimeCompare([]byte(clientID), []byte(s.clientID)) != 1 {
		s.log.Warn("token request with unknown client", zap.String("client_id", clientID))
		return nil, ErrInvalidClient
	}
	if !utils.CheckSecret(s.secretHash, clientSecret) {
		s.log.Warn("token request with wrong secret", zap.String("client_id", clientID))
		return nil, ErrInvalidClient
	}

	issuedAt := s.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)

	signed, err := utils.GenerateAccessToken(s.jwtSecret, clientID, uuid.NewString(), issuedAt, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	token := &models.OAuthToken{
		ClientID:    clientID,
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.ttl / time.Second),
		ExpiresAt:   expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	s.log.Info("token issued", zap.String("client_id", clientID), zap.Time("expires_at", expiresAt))
	return token, nil
}

// Validate accepts a token only if it verifies and a stored, unexpired row exists for it.
func (s *OAuthService) Validate(ctx context.Context, accessToken string) (*models.OAuthToken, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}
	if _, err := utils.ParseAccessToken(s.jwtSecret, accessToken, s.now); err != nil {
		return nil, ErrInvalidToken
	}

	var token models.OAuthToken
	err := s.db.WithContext(ctx).
		Where("access_token = ? AND expires_at > ?", accessToken, s.now().UTC()).
		First(&token).Error
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	return &token, nil
}
