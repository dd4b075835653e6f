package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/course-platform-api/internal/models"
	appErrors "github.com/noah-isme/course-platform-api/pkg/errors"
)

type mockAuthUserRepo struct {
	byEmail map[string]*models.User
}

func (m *mockAuthUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func authTestService(t *testing.T) (*AuthService, *models.User) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{
		ID:           1,
		Email:        "learner@example.com",
		PasswordHash: string(hash),
		FullName:     "Test Learner",
		Role:         models.RoleLearner,
		Active:       true,
	}
	repo := &mockAuthUserRepo{byEmail: map[string]*models.User{user.Email: user}}
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "course-platform-api",
	})
	return svc, user
}

func TestAuthServiceLogin(t *testing.T) {
	svc, user := authTestService(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, user.ID, resp.User.ID)
	assert.Equal(t, models.RoleLearner, resp.User.Role)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	svc, user := authTestService(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc, _ := authTestService(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@example.com", Password: "s3cret-pass"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	svc, user := authTestService(t)
	user.Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "s3cret-pass"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateToken(t *testing.T) {
	svc, user := authTestService(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "s3cret-pass"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleLearner, claims.Role)
}

func TestAuthServiceValidateTokenRejectsGarbage(t *testing.T) {
	svc, _ := authTestService(t)

	_, err := svc.ValidateToken("not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
