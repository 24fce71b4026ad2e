package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/herbal-consult-booking/internal/session"
)

// liveAccount is a real account driven through the identity provider for the
// whole run, next to the patients with minted tokens.
type liveAccount struct {
	Email    string
	Password string
	FullName string
	SignUp   bool
}

// startLivePatient signs the account in and keeps its session fresh until ctx
// ends. The returned stop func signs out and tears the session down.
func startLivePatient(ctx context.Context, idp session.IdentityProvider, profiles session.ProfileStore, acct liveAccount) (patient, func(), error) {
	mgr := session.NewManager(idp, profiles, nil)
	events, unsubscribe := mgr.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			evt := log.Info().Str("event", string(ev.Type))
			if ev.Session != nil {
				evt = evt.Time("expires_at", ev.Session.ExpiresAt)
			}
			evt.Msg("live patient auth state changed")
		}
	}()

	fail := func(err error) (patient, func(), error) {
		unsubscribe()
		mgr.Close()
		<-done
		return patient{}, nil, err
	}

	if _, err := mgr.Start(ctx); err != nil {
		return fail(err)
	}

	s, err := mgr.SignIn(ctx, acct.Email, acct.Password)
	if errors.Is(err, session.ErrInvalidCredentials) && acct.SignUp {
		_, s, err = mgr.SignUp(ctx, session.SignUpInput{
			Email:         acct.Email,
			Password:      acct.Password,
			FullName:      acct.FullName,
			AgreedToTerms: true,
		})
		if err == nil && s == nil {
			err = errors.New("account needs email confirmation before it can book")
		}
	}
	if err != nil {
		return fail(fmt.Errorf("sign in live patient: %w", err))
	}

	dest, err := mgr.Destination(ctx)
	if err != nil {
		return fail(fmt.Errorf("resolve destination: %w", err))
	}
	log.Info().Str("user_id", s.User.ID.String()).Str("destination", string(dest)).Msg("live patient signed in")

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	go keepFresh(refreshCtx, mgr)

	stop := func() {
		stopRefresh()
		signOutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := mgr.SignOut(signOutCtx); err != nil {
			log.Warn().Err(err).Msg("live patient sign out failed")
		}
		unsubscribe()
		mgr.Close()
		<-done
	}
	return patient{ID: s.User.ID, session: mgr}, stop, nil
}

// keepFresh refreshes the session a minute before the access token expires.
func keepFresh(ctx context.Context, mgr *session.Manager) {
	for {
		wait := time.Minute
		if cur := mgr.Current(); cur != nil && !cur.ExpiresAt.IsZero() {
			wait = max(time.Until(cur.ExpiresAt)-time.Minute, 5*time.Second)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if _, err := mgr.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("live patient refresh failed")
		}
	}
}
