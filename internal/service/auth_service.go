package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/tour-booking-api/internal/models"
	"github.com/noah-isme/tour-booking-api/internal/notify"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
)

const resetTokenBytes = 32

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Insert(ctx context.Context, user *models.User) (string, error)
	SetPassword(ctx context.Context, id, hash string, changedAt time.Time) error
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, id string) error
	ConsumeResetToken(ctx context.Context, tokenHash, newHash string, now time.Time) (string, error)
	PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// PasswordHasher hashes and verifies secrets.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) bool
}

// BcryptHasher is the bcrypt PasswordHasher.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using cost, or bcrypt.DefaultCost when
// cost is out of range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the bcrypt digest of plain.
func (h *BcryptHasher) Hash(plain string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Compare reports whether plain matches hash.
func (h *BcryptHasher) Compare(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// TokenSigner signs and verifies session tokens.
type TokenSigner interface {
	Sign(claims models.SessionClaims) (string, error)
	Parse(token string) (*models.SessionClaims, error)
}

// JWTSigner signs session tokens with HS256.
type JWTSigner struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTSigner constructs a JWTSigner.
func NewJWTSigner(secret, issuer string) *JWTSigner {
	return &JWTSigner{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Sign returns the signed token for claims.
func (s *JWTSigner) Sign(claims models.SessionClaims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse verifies signature, algorithm, issuer and expiry.
func (s *JWTSigner) Parse(token string) (*models.SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	claims := &models.SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// MailQueue accepts messages for asynchronous delivery.
type MailQueue interface {
	Enqueue(msg notify.Message) (string, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	TokenTTL          time.Duration
	ResetTokenTTL     time.Duration
	PasswordMinLength int
	// ResetURL is the base URL the plaintext reset token is appended to.
	ResetURL string
	// AccountURL is linked from the welcome mail.
	AccountURL string
}

// AuthDeps are the collaborators of AuthService. Welcome and Metrics are
// optional.
type AuthDeps struct {
	Users   authUserRepository
	Hasher  PasswordHasher
	Signer  TokenSigner
	Mailer  notify.Sender
	Welcome MailQueue
	Metrics *MetricsService
}

// AuthService implements the credential and session token lifecycle.
type AuthService struct {
	users     authUserRepository
	hasher    PasswordHasher
	signer    TokenSigner
	mailer    notify.Sender
	welcome   MailQueue
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDeps, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = 90 * 24 * time.Hour
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = 10 * time.Minute
	}
	if config.PasswordMinLength <= 0 {
		config.PasswordMinLength = 8
	}
	return &AuthService{
		users:     deps.Users,
		hasher:    deps.Hasher,
		signer:    deps.Signer,
		mailer:    deps.Mailer,
		welcome:   deps.Welcome,
		metrics:   deps.Metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Signup creates a regular user and signs them in.
func (s *AuthService) Signup(ctx context.Context, req models.SignupRequest) (result *models.AuthResult, err error) {
	defer func() { s.metrics.RecordAuthEvent("signup", err) }()

	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid signup payload")
	}
	if err := s.checkPasswordLength(req.Password); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Name:         req.Name,
		Email:        req.Email,
		Photo:        models.DefaultPhoto,
		Role:         models.RoleUser,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    s.now(),
	}
	if _, err := s.users.Insert(ctx, user); err != nil {
		return nil, storeError("user", err)
	}

	if s.welcome != nil {
		msg := notify.Message{
			To:   user.Email,
			Name: user.Name,
			Kind: notify.KindWelcome,
			Data: map[string]string{"url": s.config.AccountURL},
		}
		if _, err := s.welcome.Enqueue(msg); err != nil {
			s.logger.Warn("failed to enqueue welcome mail", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return s.issueSession(user)
}

// Login verifies credentials and issues a session token. Unknown emails
// still pay for one hash comparison.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (result *models.AuthResult, err error) {
	defer func() { s.metrics.RecordAuthEvent("login", err) }()

	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "please provide email and password")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.hasher.Compare(s.dummyPasswordHash(), req.Password)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, storeError("user", err)
	}
	if !s.hasher.Compare(user.PasswordHash, req.Password) {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}
	return s.issueSession(user)
}

// Verify resolves a session token into the active user it was issued to.
// Tokens issued before the last password change are rejected.
func (s *AuthService) Verify(ctx context.Context, token string) (*models.User, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired session token, please log in again")
	}
	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "the user belonging to this token no longer exists")
		}
		return nil, storeError("user", err)
	}
	if user.ChangedPasswordAfter(claims.IssuedAtMs) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user recently changed password, please log in again")
	}
	return user, nil
}

// ForgotPassword issues a reset token and mails it to the user. When the
// mail cannot be handed off the token is withdrawn again.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) (err error) {
	defer func() { s.metrics.RecordAuthEvent("forgot_password", err) }()

	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Validation(err, "please provide a valid email address")
	}
	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "there is no user with that email address")
		}
		return storeError("user", err)
	}

	token, tokenHash, err := newResetToken()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate reset token")
	}
	if err := s.users.SetResetToken(ctx, user.ID, tokenHash, s.now().Add(s.config.ResetTokenTTL)); err != nil {
		return storeError("user", err)
	}

	msg := notify.Message{
		To:   user.Email,
		Name: user.Name,
		Kind: notify.KindPasswordReset,
		Data: map[string]string{"url": s.config.ResetURL + token},
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		if clearErr := s.users.ClearResetToken(context.WithoutCancel(ctx), user.ID); clearErr != nil {
			s.logger.Error("failed to withdraw reset token", zap.String("user_id", user.ID), zap.Error(clearErr))
		}
		return appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "there was an error sending the email, try again later")
	}
	return nil
}

// ResetPassword consumes a reset token and signs the user in. Unknown and
// expired tokens change nothing.
func (s *AuthService) ResetPassword(ctx context.Context, token string, req models.ResetPasswordRequest) (result *models.AuthResult, err error) {
	defer func() { s.metrics.RecordAuthEvent("reset_password", err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid password payload")
	}
	if err := s.checkPasswordLength(req.Password); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	id, err := s.users.ConsumeResetToken(ctx, hashResetToken(token), hash, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "")
		}
		return nil, storeError("user", err)
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, storeError("user", err)
	}
	return s.issueSession(user)
}

// UpdatePassword changes the password of user after verifying the current
// one. Sessions issued earlier stop verifying.
func (s *AuthService) UpdatePassword(ctx context.Context, user *models.User, req models.UpdatePasswordRequest) (result *models.AuthResult, err error) {
	defer func() { s.metrics.RecordAuthEvent("update_password", err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid password payload")
	}
	if !s.hasher.Compare(user.PasswordHash, req.PasswordCurrent) {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "your current password is wrong")
	}
	if err := s.checkPasswordLength(req.Password); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	changedAt := s.now()
	if err := s.users.SetPassword(ctx, user.ID, hash, changedAt); err != nil {
		return nil, storeError("user", err)
	}
	updated := *user
	updated.PasswordHash = hash
	updated.PasswordChangedAt = &changedAt
	updated.PasswordResetToken = nil
	updated.PasswordResetExpires = nil
	return s.issueSession(&updated)
}

// PurgeExpiredResetTokens clears reset tokens past their expiry.
func (s *AuthService) PurgeExpiredResetTokens(ctx context.Context) (int64, error) {
	n, err := s.users.PurgeExpiredResetTokens(ctx, s.now())
	if err != nil {
		return 0, storeError("user", err)
	}
	return n, nil
}

// RunResetJanitor purges expired reset tokens every interval until ctx ends.
func (s *AuthService) RunResetJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpiredResetTokens(ctx)
			if err != nil {
				s.logger.Warn("reset token purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("purged expired reset tokens", zap.Int64("count", n))
			}
		}
	}
}

// TokenTTL is the lifetime of issued session tokens.
func (s *AuthService) TokenTTL() time.Duration {
	return s.config.TokenTTL
}

func (s *AuthService) issueSession(user *models.User) (*models.AuthResult, error) {
	now := s.now()
	expiresAt := now.Add(s.config.TokenTTL)
	claims := models.SessionClaims{
		UserID:     user.ID,
		IssuedAtMs: now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := s.signer.Sign(claims)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign session token")
	}
	return &models.AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func (s *AuthService) checkPasswordLength(password string) error {
	if len(password) < s.config.PasswordMinLength {
		return appErrors.FieldError("password", fmt.Sprintf("must be at least %d characters", s.config.PasswordMinLength))
	}
	return nil
}

func (s *AuthService) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("not-a-real-password")
		if err != nil {
			s.logger.Warn("failed to prepare dummy hash", zap.Error(err))
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func newResetToken() (string, string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token := hex.EncodeToString(buf)
	return token, hashResetToken(token), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
