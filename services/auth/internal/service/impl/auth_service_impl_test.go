package impl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"auth/internal/domain"
	"auth/internal/dto"
	"auth/internal/observability/metrics"

	"github.com/google/uuid"
)

func init() {
	metrics.MustRegister("auth-test")
}

// --- in-memory fakes for the dataStore seam ---

type fakeStore struct {
	users *fakeUserStore
	creds *fakeCredentialStore
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: &fakeUserStore{byEmail: map[string]*domain.User{}, byUsername: map[string]*domain.User{}},
		creds: &fakeCredentialStore{byUser: map[uuid.UUID]*domain.PasswordCredential{}},
	}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx storeTx) error) error {
	return fn(f)
}

func (f *fakeStore) Users() userStore             { return f.users }
func (f *fakeStore) Credentials() credentialStore { return f.creds }

type fakeUserStore struct {
	byEmail    map[string]*domain.User
	byUsername map[string]*domain.User
}

func (f *fakeUserStore) Create(_ context.Context, usr *domain.User) error {
	if _, ok := f.byEmail[usr.Email]; ok {
		return domain.ErrUserAlreadyExists
	}
	if _, ok := f.byUsername[usr.Username]; ok {
		return domain.ErrUserAlreadyExists
	}
	f.byEmail[usr.Email] = usr
	f.byUsername[usr.Username] = usr
	return nil
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, domain.ErrRecordNotFound
}

func (f *fakeUserStore) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	if u, ok := f.byUsername[username]; ok {
		return u, nil
	}
	return nil, domain.ErrRecordNotFound
}

type fakeCredentialStore struct {
	byUser map[uuid.UUID]*domain.PasswordCredential
}

func (f *fakeCredentialStore) UpsertPassword(_ context.Context, c *domain.PasswordCredential) error {
	f.byUser[c.UserID] = c
	return nil
}

func (f *fakeCredentialStore) GetPasswordByUserID(_ context.Context, userID uuid.UUID) (*domain.PasswordCredential, error) {
	if c, ok := f.byUser[userID]; ok {
		return c, nil
	}
	return nil, domain.ErrRecordNotFound
}

type fakeTokenService struct {
	issued  int
	revoked []string
}

func (f *fakeTokenService) Issue(_ context.Context, user *domain.User, ip, ua string) (*dto.TokenResponse, error) {
	f.issued++
	return &dto.TokenResponse{
		AccessToken:  "access-" + user.ID.String(),
		RefreshToken: "refresh-" + user.ID.String(),
		ExpiresIn:    900,
	}, nil
}

func (f *fakeTokenService) Refresh(_ context.Context, refreshToken, ip, ua string) (*dto.TokenResponse, error) {
	return nil, errors.New("not used in these tests")
}

func (f *fakeTokenService) RevokeSession(_ context.Context, _ domain.SessionID) error { return nil }

func (f *fakeTokenService) RevokeRefresh(_ context.Context, refreshToken string) error {
	if strings.HasPrefix(refreshToken, "gone-") {
		return domain.ErrSessionNotFound
	}
	f.revoked = append(f.revoked, refreshToken)
	return nil
}

func (f *fakeTokenService) VerifyAccess(_ context.Context, _ dto.VerifyRequest) (dto.VerifyResponse, error) {
	return dto.VerifyResponse{}, nil
}

func newTestAuthService() (*AuthServiceImpl, *fakeStore, *fakeTokenService) {
	st := newFakeStore()
	ts := &fakeTokenService{}
	return &AuthServiceImpl{
		Store:           st,
		PasswordService: NewPasswordServiceArgon2id(),
		TService:        ts,
	}, st, ts
}

func TestRegisterAndLogin(t *testing.T) {
	svc, st, ts := newTestAuthService()

	resp, err := svc.Register(context.Background(), dto.RegisterRequest{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "correct horse battery",
	}, "192.0.2.1", "test-agent")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.UserID == "" {
		t.Fatalf("expected a user id")
	}
	if len(st.creds.byUser) != 1 {
		t.Fatalf("expected one stored credential, got %d", len(st.creds.byUser))
	}

	tokens, err := svc.Login(context.Background(), dto.LoginRequest{
		EmailOrUsername: "alice@example.com",
		Password:        "correct horse battery",
	}, "192.0.2.1", "test-agent")
	if err != nil {
		t.Fatalf("login by email: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", tokens)
	}

	if _, err := svc.Login(context.Background(), dto.LoginRequest{
		EmailOrUsername: "alice",
		Password:        "correct horse battery",
	}, "192.0.2.1", "test-agent"); err != nil {
		t.Fatalf("login by username: %v", err)
	}
	if ts.issued != 2 {
		t.Fatalf("expected 2 token issues, got %d", ts.issued)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestAuthService()

	cases := []struct {
		name string
		req  dto.RegisterRequest
		want error
	}{
		{"missing email", dto.RegisterRequest{Username: "bob", Password: "long enough pw"}, ErrEmptyCredential},
		{"missing username", dto.RegisterRequest{Email: "bob@example.com", Password: "long enough pw"}, ErrEmptyCredential},
		{"short password", dto.RegisterRequest{Email: "bob@example.com", Username: "bob", Password: "short"}, ErrPasswordLength},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tc.req, "", ""); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svc, _, _ := newTestAuthService()

	req := dto.RegisterRequest{Email: "carol@example.com", Username: "carol", Password: "long enough pw"}
	if _, err := svc.Register(context.Background(), req, "", ""); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(context.Background(), req, "", ""); !errors.Is(err, domain.ErrUserAlreadyExists) {
		t.Fatalf("expected ErrUserAlreadyExists, got %v", err)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc, _, _ := newTestAuthService()

	if _, err := svc.Register(context.Background(), dto.RegisterRequest{
		Email:    "dave@example.com",
		Username: "dave",
		Password: "the real password",
	}, "", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := svc.Login(context.Background(), dto.LoginRequest{
		EmailOrUsername: "dave",
		Password:        "not the password",
	}, "", "")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	_, err = svc.Login(context.Background(), dto.LoginRequest{
		EmailOrUsername: "nobody",
		Password:        "whatever",
	}, "", "")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("unknown users must look like bad credentials, got %v", err)
	}
}

func TestLoginRejectsDisabledUser(t *testing.T) {
	svc, st, _ := newTestAuthService()

	if _, err := svc.Register(context.Background(), dto.RegisterRequest{
		Email:    "eve@example.com",
		Username: "eve",
		Password: "long enough pw",
	}, "", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	st.users.byUsername["eve"].IsDisabled = true

	if _, err := svc.Login(context.Background(), dto.LoginRequest{
		EmailOrUsername: "eve",
		Password:        "long enough pw",
	}, "", ""); !errors.Is(err, domain.ErrUserDisabled) {
		t.Fatalf("expected ErrUserDisabled, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	svc, _, ts := newTestAuthService()

	if err := svc.Logout(context.Background(), "refresh-abc"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(ts.revoked) != 1 || ts.revoked[0] != "refresh-abc" {
		t.Fatalf("expected one revocation, got %v", ts.revoked)
	}

	// A refresh token with no live session is already logged out.
	if err := svc.Logout(context.Background(), "gone-xyz"); err != nil {
		t.Fatalf("logout of dead session should be a no-op, got %v", err)
	}

	if err := svc.Logout(context.Background(), "  "); !errors.Is(err, ErrEmptyCredential) {
		t.Fatalf("expected ErrEmptyCredential, got %v", err)
	}
}
