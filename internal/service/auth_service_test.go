package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/tour-booking-api/internal/models"
	"github.com/noah-isme/tour-booking-api/internal/notify"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
)

type mockAuthRepo struct {
	mu         sync.Mutex
	users      map[string]*models.User
	insertErr  error
	findErr    error
	cleared    []string
	purgedAt   time.Time
	purgeCount int64
}

func newMockAuthRepo() *mockAuthRepo {
	return &mockAuthRepo{users: make(map[string]*models.User)}
}

func (m *mockAuthRepo) add(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Active = true
	m.users[u.ID] = u
}

func (m *mockAuthRepo) get(id string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *m.users[id]
	return &copied
}

func (m *mockAuthRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Active && u.Email == strings.ToLower(strings.TrimSpace(email)) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !u.Active {
		return nil, sql.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

func (m *mockAuthRepo) Insert(_ context.Context, u *models.User) (string, error) {
	if m.insertErr != nil {
		return "", m.insertErr
	}
	u.ID = uuid.NewString()
	stored := *u
	m.add(&stored)
	return u.ID, nil
}

func (m *mockAuthRepo) SetPassword(_ context.Context, id, hash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = &changedAt
	u.PasswordResetToken, u.PasswordResetExpires = nil, nil
	return nil
}

func (m *mockAuthRepo) SetResetToken(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordResetToken = &tokenHash
	u.PasswordResetExpires = &expiresAt
	return nil
}

func (m *mockAuthRepo) ClearResetToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, id)
	if u, ok := m.users[id]; ok {
		u.PasswordResetToken, u.PasswordResetExpires = nil, nil
	}
	return nil
}

func (m *mockAuthRepo) ConsumeResetToken(_ context.Context, tokenHash, newHash string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Active && u.PasswordResetToken != nil && *u.PasswordResetToken == tokenHash && u.PasswordResetExpires.After(now) {
			u.PasswordHash = newHash
			changed := now
			u.PasswordChangedAt = &changed
			u.PasswordResetToken, u.PasswordResetExpires = nil, nil
			return u.ID, nil
		}
	}
	return "", sql.ErrNoRows
}

func (m *mockAuthRepo) PurgeExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	m.purgedAt = now
	return m.purgeCount, nil
}

type mockSender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (m *mockSender) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSender) Enqueue(msg notify.Message) (string, error) {
	return uuid.NewString(), m.Send(context.Background(), msg)
}

type countingHasher struct {
	PasswordHasher
	compares int
}

func (h *countingHasher) Compare(hash, plain string) bool {
	h.compares++
	return h.PasswordHasher.Compare(hash, plain)
}

type authFixture struct {
	svc     *AuthService
	repo    *mockAuthRepo
	mailer  *mockSender
	welcome *mockSender
	hasher  *countingHasher
	signer  *JWTSigner
	clock   time.Time
}

func (f *authFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		repo:    newMockAuthRepo(),
		mailer:  &mockSender{},
		welcome: &mockSender{},
		hasher:  &countingHasher{PasswordHasher: NewBcryptHasher(bcrypt.MinCost)},
		signer:  NewJWTSigner("test-secret", "tour-booking-api"),
		clock:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.signer.now = func() time.Time { return f.clock }
	f.svc = NewAuthService(AuthDeps{
		Users:   f.repo,
		Hasher:  f.hasher,
		Signer:  f.signer,
		Mailer:  f.mailer,
		Welcome: f.welcome,
	}, nil, nil, AuthConfig{
		TokenTTL:      time.Hour,
		ResetTokenTTL: 10 * time.Minute,
		ResetURL:      "http://localhost:3000/api/v1/users/resetPassword/",
		AccountURL:    "http://localhost:3000/me",
	})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *authFixture) seedUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	u := &models.User{Name: "Ana Lima", Email: email, Role: models.RoleUser, Photo: models.DefaultPhoto, PasswordHash: hash}
	f.repo.add(u)
	return u
}

func TestLoginScenario(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "a@x.com", "correct123")

	_, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "a@x.com", Password: "wrong"})
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	result, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "a@x.com", Password: "correct123"})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(time.Hour), result.ExpiresAt)

	verified, err := f.svc.Verify(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.ID)
}

func TestLoginAndForgotPasswordAcceptPaddedEmail(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "ana@example.com", "correct123")

	result, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "  Ana@Example.COM ", Password: "correct123"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)

	require.NoError(t, f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: " ANA@example.com"}))
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "ana@example.com", f.mailer.sent[0].To)
}

func TestLoginUnknownEmailStillComparesHash(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "nobody@x.com", Password: "whatever1"})
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	assert.Equal(t, 1, f.hasher.compares)
	assert.Equal(t, "incorrect email or password", err.Error())
}

func TestLoginRequiresCredentials(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "a@x.com"})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, "is required", appErr.Details["password"])
}

func TestLoginStoreFailureIsDependencyError(t *testing.T) {
	f := newAuthFixture(t)
	f.repo.findErr = errors.New("connection refused")

	_, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "a@x.com", Password: "secret123"})
	assert.ErrorIs(t, err, appErrors.ErrDependency)
}

func TestSignupCreatesRegularUser(t *testing.T) {
	f := newAuthFixture(t)

	result, err := f.svc.Signup(context.Background(), models.SignupRequest{
		Name:            "Ana Lima",
		Email:           " Ana@Example.com ",
		Password:        "pass12345",
		PasswordConfirm: "pass12345",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, result.User.Role)
	assert.Equal(t, models.DefaultPhoto, result.User.Photo)
	assert.Equal(t, "ana@example.com", result.User.Email)

	stored := f.repo.get(result.User.ID)
	assert.NotEqual(t, "pass12345", stored.PasswordHash)
	assert.True(t, f.hasher.Compare(stored.PasswordHash, "pass12345"))

	require.Len(t, f.welcome.sent, 1)
	assert.Equal(t, notify.KindWelcome, f.welcome.sent[0].Kind)
	assert.Equal(t, "ana@example.com", f.welcome.sent[0].To)

	_, err = f.svc.Verify(context.Background(), result.Token)
	require.NoError(t, err)
}

func TestSignupValidation(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Signup(context.Background(), models.SignupRequest{
		Name: "Ana", Email: "ana@example.com", Password: "pass12345", PasswordConfirm: "pass54321",
	})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "must match password", appErr.Details["passwordConfirm"])

	_, err = f.svc.Signup(context.Background(), models.SignupRequest{
		Name: "Ana", Email: "ana@example.com", Password: "short", PasswordConfirm: "short",
	})
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "must be at least 8 characters", appErr.Details["password"])
}

func TestSignupWelcomeFailureDoesNotFailSignup(t *testing.T) {
	f := newAuthFixture(t)
	f.welcome.err = errors.New("queue full")

	_, err := f.svc.Signup(context.Background(), models.SignupRequest{
		Name: "Ana", Email: "ana@example.com", Password: "pass12345", PasswordConfirm: "pass12345",
	})
	require.NoError(t, err)
}

func TestVerifyRejectsTokenIssuedBeforePasswordChange(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "a@x.com", "correct123")

	old, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "a@x.com", Password: "correct123"})
	require.NoError(t, err)

	f.advance(time.Second)
	current, err := f.svc.Verify(context.Background(), old.Token)
	require.NoError(t, err)
	renewed, err := f.svc.UpdatePassword(context.Background(), current, models.UpdatePasswordRequest{
		PasswordCurrent: "correct123", Password: "newpass123", PasswordConfirm: "newpass123",
	})
	require.NoError(t, err)

	_, err = f.svc.Verify(context.Background(), old.Token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	verified, err := f.svc.Verify(context.Background(), renewed.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.ID)
}

func TestVerifyRejectsExpiredAndForgedTokens(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "a@x.com", "correct123")

	result, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "a@x.com", Password: "correct123"})
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	_, err = f.svc.Verify(context.Background(), result.Token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, models.SessionClaims{UserID: "someone"})
	signed, err := forged.SignedString([]byte("another-secret"))
	require.NoError(t, err)
	_, err = f.svc.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = f.svc.Verify(context.Background(), "garbage")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestVerifyRejectsDeactivatedUser(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "a@x.com", "correct123")
	result, err := f.svc.Login(context.Background(), models.LoginRequest{Email: "a@x.com", Password: "correct123"})
	require.NoError(t, err)

	f.repo.users[user.ID].Active = false
	_, err = f.svc.Verify(context.Background(), result.Token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
	assert.Contains(t, err.Error(), "no longer exists")
}

func TestUpdatePasswordRequiresCurrentPassword(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "a@x.com", "correct123")

	_, err := f.svc.UpdatePassword(context.Background(), user, models.UpdatePasswordRequest{
		PasswordCurrent: "wrong", Password: "newpass123", PasswordConfirm: "newpass123",
	})
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	assert.Equal(t, user.PasswordHash, f.repo.get(user.ID).PasswordHash)
}

func resetTokenFrom(t *testing.T, msg notify.Message) string {
	t.Helper()
	url := msg.Data["url"]
	idx := strings.LastIndex(url, "/")
	require.GreaterOrEqual(t, idx, 0)
	return url[idx+1:]
}

func TestForgotPasswordStoresOnlyTokenHash(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "a@x.com", "correct123")

	require.NoError(t, f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "a@x.com"}))
	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, notify.KindPasswordReset, msg.Kind)

	token := resetTokenFrom(t, msg)
	assert.Len(t, token, 2*resetTokenBytes)

	stored := f.repo.get(user.ID)
	require.NotNil(t, stored.PasswordResetToken)
	assert.Equal(t, hashResetToken(token), *stored.PasswordResetToken)
	assert.NotEqual(t, token, *stored.PasswordResetToken)
	assert.Equal(t, f.clock.Add(10*time.Minute), *stored.PasswordResetExpires)
	assert.Equal(t, models.CredentialResetPending, stored.CredentialState(f.clock))
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	f := newAuthFixture(t)

	err := f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "nobody@x.com"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Empty(t, f.mailer.sent)
}

func TestForgotPasswordRollsBackOnSendFailure(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "a@x.com", "correct123")
	f.mailer.err = errors.New("smtp down")

	err := f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "a@x.com"})
	require.ErrorIs(t, err, appErrors.ErrDependency)

	stored := f.repo.get(user.ID)
	assert.Nil(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetExpires)
	assert.Equal(t, []string{user.ID}, f.repo.cleared)
	assert.Equal(t, models.CredentialActive, stored.CredentialState(f.clock))
}

func TestResetPasswordConsumesTokenOnce(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "a@x.com", "correct123")
	require.NoError(t, f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "a@x.com"}))
	token := resetTokenFrom(t, f.mailer.sent[0])

	req := models.ResetPasswordRequest{Password: "brandnew123", PasswordConfirm: "brandnew123"}
	result, err := f.svc.ResetPassword(context.Background(), token, req)
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)

	stored := f.repo.get(user.ID)
	assert.True(t, f.hasher.Compare(stored.PasswordHash, "brandnew123"))
	assert.Nil(t, stored.PasswordResetToken)
	require.NotNil(t, stored.PasswordChangedAt)

	_, err = f.svc.ResetPassword(context.Background(), token, req)
	assert.ErrorIs(t, err, appErrors.ErrTokenInvalid)
}

func TestResetPasswordExpiredTokenChangesNothing(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "a@x.com", "correct123")
	require.NoError(t, f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "a@x.com"}))
	token := resetTokenFrom(t, f.mailer.sent[0])
	before := f.repo.get(user.ID)

	f.advance(11 * time.Minute)
	_, err := f.svc.ResetPassword(context.Background(), token, models.ResetPasswordRequest{Password: "brandnew123", PasswordConfirm: "brandnew123"})
	require.ErrorIs(t, err, appErrors.ErrTokenInvalid)

	after := f.repo.get(user.ID)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
	assert.Equal(t, before.PasswordResetToken, after.PasswordResetToken)
	assert.Nil(t, after.PasswordChangedAt)
	assert.Equal(t, models.CredentialActive, after.CredentialState(f.clock))
}

func TestPurgeExpiredResetTokensUsesClock(t *testing.T) {
	f := newAuthFixture(t)
	f.repo.purgeCount = 3

	n, err := f.svc.PurgeExpiredResetTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, f.clock, f.repo.purgedAt)
}

func TestJWTSignerRejectsOtherAlgorithms(t *testing.T) {
	signer := NewJWTSigner("test-secret", "")
	token := jwt.NewWithClaims(jwt.SigningMethodNone, models.SessionClaims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = signer.Parse(signed)
	require.Error(t, err)
}
