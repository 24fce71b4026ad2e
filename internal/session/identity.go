// Package session owns patient authentication: the hosted identity provider
// client, access token verification and an explicit session lifecycle.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrTermsNotAccepted   = errors.New("you must agree to the terms and conditions")
	ErrNoSession          = errors.New("no active session")
	ErrIdentity           = errors.New("identity provider error")
)

type User struct {
	ID       uuid.UUID      `json:"id"`
	Email    string         `json:"email"`
	Phone    string         `json:"phone"`
	Metadata map[string]any `json:"user_metadata"`
}

// FullName returns the full_name stored at sign up, if any.
func (u User) FullName() string {
	if v, ok := u.Metadata["full_name"].(string); ok {
		return v
	}
	return ""
}

type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"-"`
	User         User      `json:"user"`
}

type SignUpInput struct {
	Email         string
	Password      string
	FullName      string
	DateOfBirth   string
	AgreedToTerms bool
}

// IdentityProvider is the hosted authentication service.
type IdentityProvider interface {
	SignUp(ctx context.Context, in SignUpInput) (*User, *Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignInWithGoogle(redirectTo string) string
	ResetPassword(ctx context.Context, email, redirectTo string) error
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*User, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
}

// GoTrueClient talks to a GoTrue compatible auth REST API.
type GoTrueClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewGoTrueClient(baseURL, apiKey string) *GoTrueClient {
	return &GoTrueClient{
		baseURL:    strings.TrimRight(baseURL, "/") + "/auth/v1",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

func (t tokenResponse) session() *Session {
	s := &Session{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, User: t.User}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return s
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e errorResponse) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (c *GoTrueClient) SignUp(ctx context.Context, in SignUpInput) (*User, *Session, error) {
	body := map[string]any{
		"email":    in.Email,
		"password": in.Password,
		"data": map[string]any{
			"full_name":       in.FullName,
			"date_of_birth":   in.DateOfBirth,
			"user_type":       "patient",
			"agreed_to_terms": in.AgreedToTerms,
			"is_verified":     false,
		},
	}

	// Depending on email confirmation settings the response is either a bare
	// user or a token response with a nested user.
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", "", body, &raw); err != nil {
		return nil, nil, err
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err == nil && tok.AccessToken != "" {
		return &tok.User, tok.session(), nil
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, nil, fmt.Errorf("%w: decode sign up: %w", ErrIdentity, err)
	}
	return &u, nil, nil
}

func (c *GoTrueClient) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var tok tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", map[string]string{
		"email":    email,
		"password": password,
	}, &tok)
	if err != nil {
		return nil, err
	}
	return tok.session(), nil
}

func (c *GoTrueClient) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	var tok tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", map[string]string{
		"refresh_token": refreshToken,
	}, &tok)
	if err != nil {
		return nil, err
	}
	return tok.session(), nil
}

// SignInWithGoogle returns the OAuth URL the client should open.
func (c *GoTrueClient) SignInWithGoogle(redirectTo string) string {
	q := url.Values{}
	q.Set("provider", "google")
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.baseURL + "/authorize?" + q.Encode()
}

func (c *GoTrueClient) ResetPassword(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return c.do(ctx, http.MethodPost, path, "", map[string]string{"email": email}, nil)
}

func (c *GoTrueClient) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

func (c *GoTrueClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *GoTrueClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIdentity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		if resp.StatusCode == http.StatusBadRequest && e.Error == "invalid_grant" {
			return ErrInvalidCredentials
		}
		msg := e.text()
		if msg == "" {
			msg = resp.Status
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w: %s", ErrIdentity, ErrInvalidToken, msg)
		}
		return fmt.Errorf("%w: %s", ErrIdentity, msg)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrIdentity, err)
	}
	return nil
}
