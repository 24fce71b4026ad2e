package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hackgods/herbal-consult-booking/internal/session"
)

// authHandler fronts the hosted identity provider. It holds no session
// state: tokens travel with each request.
type authHandler struct {
	idp         session.IdentityProvider
	profiles    session.ProfileStore
	redirectURL string
}

func newAuthHandler(idp session.IdentityProvider, profiles session.ProfileStore, redirectURL string) *authHandler {
	return &authHandler{idp: idp, profiles: profiles, redirectURL: redirectURL}
}

func (h *authHandler) sessionResponse(r *http.Request, s *session.Session) SessionResponse {
	resp := SessionResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		UserID:       s.User.ID,
		Email:        s.User.Email,
	}
	if h.profiles != nil {
		if dest, err := session.ResolveDestination(r.Context(), h.profiles, s.User.ID); err == nil {
			resp.Destination = string(dest)
		}
	}
	return resp
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func (h *authHandler) signUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "email and password are required")
		return
	}

	user, s, err := session.Register(r.Context(), h.idp, h.profiles, session.SignUpInput{
		Email:         req.Email,
		Password:      req.Password,
		FullName:      req.FullName,
		DateOfBirth:   req.DateOfBirth,
		AgreedToTerms: req.AgreedToTerms,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	// Email confirmation pending: no tokens yet.
	if s == nil {
		writeJSON(w, http.StatusCreated, SessionResponse{
			UserID:      user.ID,
			Email:       user.Email,
			Destination: string(session.DestinationVerification),
		})
		return
	}
	writeJSON(w, http.StatusCreated, h.sessionResponse(r, s))
}

func (h *authHandler) signIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if !decode(w, r, &req) {
		return
	}

	s, err := h.idp.SignIn(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionResponse(r, s))
}

func (h *authHandler) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "refresh_token is required")
		return
	}

	s, err := h.idp.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionResponse(r, s))
}

func (h *authHandler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "email is required")
		return
	}

	if err := h.idp.ResetPassword(r.Context(), strings.TrimSpace(req.Email), h.redirectURL); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *authHandler) google(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.idp.SignInWithGoogle(h.redirectURL), http.StatusFound)
}

// signOut revokes the caller's access token at the provider.
func (h *authHandler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.idp.SignOut(r.Context(), bearerToken(r)); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// me returns the provider's view of the caller merged with their profile.
func (h *authHandler) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.idp.GetUser(r.Context(), bearerToken(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := MeResponse{UserID: user.ID, Email: user.Email, Phone: user.Phone, FullName: user.FullName()}

	p, err := h.profiles.GetProfile(r.Context(), user.ID)
	switch {
	case errors.Is(err, session.ErrProfileNotFound):
		resp.Destination = string(session.DestinationVerification)
	case err != nil:
		handleServiceError(w, r, err)
		return
	default:
		applyProfile(&resp, p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func applyProfile(resp *MeResponse, p *session.Profile) {
	if p.FullName != "" {
		resp.FullName = p.FullName
	}
	if p.Phone != nil && *p.Phone != "" {
		resp.Phone = *p.Phone
	}
	if p.DateOfBirth != nil {
		resp.DateOfBirth = p.DateOfBirth.Format(time.DateOnly)
	}
	resp.UserType = p.UserType
	resp.IsVerified = p.IsVerified
	resp.VerificationSubmitted = p.VerificationSubmitted
	resp.Destination = string(session.DestinationFor(p))
}
