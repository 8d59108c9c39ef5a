package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/shared"
)

// ErrNetworkUnavailable indicates the server could not be reached.
// It is never treated as an authentication verdict.
var ErrNetworkUnavailable = errors.New("network unavailable")

// ErrUnknownServer indicates an unexpected server-side failure.
var ErrUnknownServer = errors.New("unknown server error")

// Credentials is a username/password pair.
type Credentials struct {
	Username string
	Password string
}

// LoginResult carries everything the server returns on a successful
// login.
type LoginResult struct {
	Access  string
	Refresh string
	User    *authz.Actor
}

// API is the server surface the session manager depends on.
type API interface {
	Login(ctx context.Context, creds Credentials) (LoginResult, error)
	RefreshAccess(ctx context.Context, refresh string) (string, error)
	Logout(ctx context.Context, refresh string) error
	CurrentUser(ctx context.Context, access string) (*authz.Actor, error)
}

// Principal selects which authentication surface the client talks to.
type Principal string

const (
	PrincipalAdmin  Principal = "admin"
	PrincipalClient Principal = "client"
)

func (p Principal) basePath() string {
	if p == PrincipalAdmin {
		return "/api/admin"
	}
	return "/api/auth"
}

// HTTPAPI implements API against the condogate HTTP surface.
type HTTPAPI struct {
	baseURL   string
	principal Principal
	client    *http.Client
}

// NewHTTPAPI builds HTTPAPI instance.
func NewHTTPAPI(baseURL string, principal Principal, client *http.Client) *HTTPAPI {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPAPI{
		baseURL:   strings.TrimRight(baseURL, "/"),
		principal: principal,
		client:    client,
	}
}

func (a *HTTPAPI) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	var body struct {
		Access  string       `json:"access"`
		Refresh string       `json:"refresh"`
		User    *authz.Actor `json:"user"`
	}
	err := a.post(ctx, "/login/", map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	}, "", &body)
	if errors.Is(err, shared.ErrSessionExpired) {
		// A 401 on login means bad credentials, not a stale session.
		return LoginResult{}, shared.ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Access: body.Access, Refresh: body.Refresh, User: body.User}, nil
}

func (a *HTTPAPI) RefreshAccess(ctx context.Context, refresh string) (string, error) {
	var body struct {
		Access string `json:"access"`
	}
	err := a.post(ctx, "/token/refresh/", map[string]string{"refresh": refresh}, "", &body)
	if err != nil {
		return "", err
	}
	return body.Access, nil
}

func (a *HTTPAPI) Logout(ctx context.Context, refresh string) error {
	return a.post(ctx, "/logout/", map[string]string{"refresh": refresh}, "", nil)
}

func (a *HTTPAPI) CurrentUser(ctx context.Context, access string) (*authz.Actor, error) {
	var body struct {
		User *authz.Actor `json:"user"`
	}
	if err := a.get(ctx, "/user-info/", access, &body); err != nil {
		return nil, err
	}
	return body.User, nil
}

func (a *HTTPAPI) post(ctx context.Context, path string, payload any, access string, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, access, out)
}

func (a *HTTPAPI) get(ctx context.Context, path, access string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url(path), nil)
	if err != nil {
		return err
	}
	return a.do(req, access, out)
}

func (a *HTTPAPI) url(path string) string {
	return a.baseURL + a.principal.basePath() + path
}

func (a *HTTPAPI) do(req *http.Request, access string, out any) error {
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	res, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		if out == nil {
			return nil
		}
		return json.NewDecoder(res.Body).Decode(out)
	case res.StatusCode == http.StatusUnauthorized:
		return shared.ErrSessionExpired
	case res.StatusCode == http.StatusForbidden:
		return shared.ErrPermissionDenied
	case res.StatusCode == http.StatusBadRequest:
		return shared.ErrValidation
	case res.StatusCode == http.StatusNotFound:
		return shared.ErrNotFound
	default:
		return fmt.Errorf("%w: status %d", ErrUnknownServer, res.StatusCode)
	}
}
