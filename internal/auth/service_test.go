package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/shared"
)

type stubRepo struct {
	actors     map[string]*authz.Actor
	hashes     map[string]string
	lastAccess map[int64]time.Time
	verified   map[int64]bool
	created    []NewUser
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		actors:     make(map[string]*authz.Actor),
		hashes:     make(map[string]string),
		lastAccess: make(map[int64]time.Time),
		verified:   make(map[int64]bool),
	}
}

func (s *stubRepo) add(actor *authz.Actor, password string) {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	s.actors[actor.Username] = actor
	s.hashes[actor.Username] = string(hash)
}

func (s *stubRepo) FindByUsername(_ context.Context, username string) (*authz.Actor, string, error) {
	actor, ok := s.actors[username]
	if !ok {
		return nil, "", shared.ErrNotFound
	}
	copied := *actor
	return &copied, s.hashes[username], nil
}

func (s *stubRepo) FindByEmail(_ context.Context, email string) (*authz.Actor, error) {
	for _, actor := range s.actors {
		if strings.EqualFold(actor.Email, email) {
			copied := *actor
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) MarkEmailVerified(_ context.Context, id int64) error {
	for _, actor := range s.actors {
		if actor.ID == id {
			s.verified[id] = true
			return nil
		}
	}
	return shared.ErrNotFound
}

func (s *stubRepo) FindActor(_ context.Context, id int64) (*authz.Actor, error) {
	for _, actor := range s.actors {
		if actor.ID == id {
			copied := *actor
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) UpdateLastAccess(_ context.Context, id int64, at time.Time) error {
	s.lastAccess[id] = at
	return nil
}

func (s *stubRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	for username, actor := range s.actors {
		if actor.ID == id {
			s.hashes[username] = hash
			return nil
		}
	}
	return shared.ErrNotFound
}

func (s *stubRepo) UpdateProfile(_ context.Context, id int64, upd ProfileUpdate) error {
	for _, actor := range s.actors {
		if actor.ID == id {
			actor.Email = upd.Email
			actor.FirstName = upd.FirstName
			actor.LastName = upd.LastName
			actor.Phone = upd.Phone
			actor.Address = upd.Address
			return nil
		}
	}
	return shared.ErrNotFound
}

func (s *stubRepo) CreateUser(_ context.Context, u NewUser) (*authz.Actor, error) {
	if _, ok := s.actors[u.Username]; ok {
		return nil, shared.ErrDuplicate
	}
	s.created = append(s.created, u)
	actor := &authz.Actor{
		ID:       int64(100 + len(s.created)),
		Username: u.Username,
		Email:    u.Email,
		Active:   true,
		Role:     &authz.Role{Name: u.RoleName},
	}
	s.actors[u.Username] = actor
	s.hashes[u.Username] = u.Hash
	return actor, nil
}

func (s *stubRepo) Dashboard(context.Context) (DashboardStats, error) {
	return DashboardStats{TotalUsers: int64(len(s.actors))}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureMailer struct {
	to     []string
	bodies []string
}

func (m *captureMailer) SendEmail(_ context.Context, to, _, body string) error {
	m.to = append(m.to, to)
	m.bodies = append(m.bodies, body)
	return nil
}

// lastToken pulls the token out of the most recent email body; the
// bodies end with ": <token>".
func (m *captureMailer) lastToken(t *testing.T) string {
	t.Helper()
	if len(m.bodies) == 0 {
		t.Fatal("no mail captured")
	}
	parts := strings.Split(m.bodies[len(m.bodies)-1], ": ")
	return parts[len(parts)-1]
}

func newAuthTestService(t *testing.T) (*Service, *stubRepo) {
	t.Helper()
	tokens, _ := newTestTokenService(t)
	repo := newStubRepo()
	return NewService(discardLogger(), repo, tokens, nil), repo
}

func newAuthTestServiceWithMail(t *testing.T) (*Service, *stubRepo, *captureMailer) {
	t.Helper()
	tokens, _ := newTestTokenService(t)
	repo := newStubRepo()
	mail := &captureMailer{}
	return NewService(discardLogger(), repo, tokens, mail), repo, mail
}

func adminActor(id int64, username string) *authz.Actor {
	return &authz.Actor{
		ID:       id,
		Username: username,
		Active:   true,
		Role:     &authz.Role{ID: 2, Name: "Administrador", Administrative: true},
	}
}

func clientActor(id int64, username string) *authz.Actor {
	return &authz.Actor{
		ID:       id,
		Username: username,
		Active:   true,
		Role:     &authz.Role{ID: 1, Name: "Cliente", Administrative: false},
	}
}

func TestAdminLoginSuccess(t *testing.T) {
	svc, repo := newAuthTestService(t)
	repo.add(adminActor(1, "gerente"), "secreto123")

	actor, pair, err := svc.Authenticate(context.Background(), LoginAdmin, "gerente", "secreto123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if pair.Access == "" || pair.Refresh == "" {
		t.Fatal("expected token pair")
	}
	if actor.LastAccess == nil {
		t.Fatal("expected last access stamped")
	}
	if _, ok := repo.lastAccess[1]; !ok {
		t.Fatal("expected last access persisted")
	}
}

func TestAdminLoginRejectsClientRole(t *testing.T) {
	svc, repo := newAuthTestService(t)
	repo.add(clientActor(2, "residente"), "secreto123")

	_, _, err := svc.Authenticate(context.Background(), LoginAdmin, "residente", "secreto123")
	if !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestClientLoginRejectsAdministrativeRole(t *testing.T) {
	svc, repo := newAuthTestService(t)
	repo.add(adminActor(3, "gerente"), "secreto123")

	_, _, err := svc.Authenticate(context.Background(), LoginClient, "gerente", "secreto123")
	if !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestSuperuserPassesBothFlows(t *testing.T) {
	svc, repo := newAuthTestService(t)
	root := &authz.Actor{ID: 4, Username: "root", Active: true, Superuser: true}
	repo.add(root, "secreto123")

	for _, kind := range []LoginKind{LoginAdmin, LoginClient} {
		if _, _, err := svc.Authenticate(context.Background(), kind, "root", "secreto123"); err != nil {
			t.Fatalf("superuser %s login: %v", kind, err)
		}
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, repo := newAuthTestService(t)
	repo.add(adminActor(5, "gerente"), "secreto123")

	_, _, err := svc.Authenticate(context.Background(), LoginAdmin, "gerente", "otra")
	if !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestLoginUnknownUserIsInvalidCredentials(t *testing.T) {
	svc, _ := newAuthTestService(t)
	_, _, err := svc.Authenticate(context.Background(), LoginAdmin, "nadie", "x")
	if !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	svc, repo := newAuthTestService(t)
	actor := adminActor(6, "gerente")
	actor.Active = false
	repo.add(actor, "secreto123")

	_, _, err := svc.Authenticate(context.Background(), LoginAdmin, "gerente", "secreto123")
	if !errors.Is(err, shared.ErrInactiveUser) {
		t.Fatalf("expected inactive user, got %v", err)
	}
}

func TestRegisterDefaultsToClientRole(t *testing.T) {
	svc, repo := newAuthTestService(t)
	actor, err := svc.Register(context.Background(), NewUser{Username: "nuevo", Email: "n@x.com"}, "secreto123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if actor.Role == nil || actor.Role.Name != DefaultClientRole {
		t.Fatalf("expected default client role, got %+v", actor.Role)
	}
	if repo.created[0].Hash == "secreto123" {
		t.Fatal("expected password hashed before storage")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, repo, mail := newAuthTestServiceWithMail(t)
	actor := clientActor(8, "residente")
	actor.Email = "res@example.com"
	repo.add(actor, "vieja1234")

	if err := svc.RequestPasswordReset(context.Background(), "res@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if len(mail.to) != 1 || mail.to[0] != "res@example.com" {
		t.Fatalf("expected one reset mail, got %v", mail.to)
	}

	token := mail.lastToken(t)
	if err := svc.ResetPassword(context.Background(), token, "nueva1234"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(repo.hashes["residente"]), []byte("nueva1234")) != nil {
		t.Fatal("expected new password stored")
	}

	// The token is single use: a replay must fail.
	if err := svc.ResetPassword(context.Background(), token, "otra12345"); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected reused token rejected, got %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	svc, _, mail := newAuthTestServiceWithMail(t)
	if err := svc.RequestPasswordReset(context.Background(), "nadie@example.com"); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if len(mail.to) != 0 {
		t.Fatalf("expected no mail for unknown address, got %v", mail.to)
	}
}

func TestRefreshTokenCannotResetPassword(t *testing.T) {
	svc, repo, _ := newAuthTestServiceWithMail(t)
	repo.add(clientActor(10, "residente"), "vieja1234")

	pair, err := svc.tokens.IssuePair(10)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := svc.ResetPassword(context.Background(), pair.Refresh, "nueva1234"); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected wrong-purpose token rejected, got %v", err)
	}
}

func TestRegisterSendsVerificationMailAndVerifyMarks(t *testing.T) {
	svc, repo, mail := newAuthTestServiceWithMail(t)
	actor, err := svc.Register(context.Background(), NewUser{Username: "nuevo", Email: "nuevo@example.com"}, "secreto123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(mail.to) != 1 || mail.to[0] != "nuevo@example.com" {
		t.Fatalf("expected verification mail, got %v", mail.to)
	}

	if err := svc.VerifyEmail(context.Background(), mail.lastToken(t)); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	if !repo.verified[actor.ID] {
		t.Fatal("expected account marked verified")
	}
	if err := svc.VerifyEmail(context.Background(), "basura"); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected garbage token rejected, got %v", err)
	}
}

func TestChangePasswordVerifiesCurrent(t *testing.T) {
	svc, repo := newAuthTestService(t)
	repo.add(adminActor(7, "gerente"), "vieja1234")

	if err := svc.ChangePassword(context.Background(), 7, "equivocada", "nueva1234"); !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := svc.ChangePassword(context.Background(), 7, "vieja1234", "nueva1234"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(repo.hashes["gerente"]), []byte("nueva1234")) != nil {
		t.Fatal("expected new password stored")
	}
}
