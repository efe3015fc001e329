package services

import (
	"context"
	"errors"
	"log"

	"bazaar/internal/authapi"
	"bazaar/internal/models"
)

// CredentialService drives registration, sign-in and the other credential
// flows, keeping the profile record in the store consistent with the
// account. Primary failures come back localized; failures of best-effort
// side steps become envelope warnings instead of sinking the operation.
type CredentialService struct {
	provider authapi.Provider
	store    *StoreService
}

func NewCredentialService(provider authapi.Provider, store *StoreService) *CredentialService {
	return &CredentialService{provider: provider, store: store}
}

// Register creates the account, then best-effort sets the display name
// and writes the initial profile record with the plain user role.
func (s *CredentialService) Register(ctx context.Context, email, password, displayName string) models.Result[*authapi.Session] {
	session, err := s.provider.CreateAccount(ctx, email, password)
	if err != nil {
		log.Printf("auth: registration of %s failed: %v", email, err)
		return models.Fail[*authapi.Session](authapi.LocalizeError(err))
	}

	var warnings []string
	if displayName != "" {
		if err := s.provider.UpdateDisplayName(ctx, session.UID, displayName); err != nil {
			log.Printf("auth: failed to set display name for %s: %v", session.UID, err)
			warnings = append(warnings, "не удалось сохранить отображаемое имя")
		} else {
			session.DisplayName = displayName
		}
	}

	profile := models.Profile{
		Email:       email,
		DisplayName: displayName,
		Role:        models.RoleUser,
		CreatedAt:   timestamp(),
	}
	if res := s.store.SaveProfile(ctx, session.UID, profile); !res.Success {
		log.Printf("auth: failed to write initial profile for %s: %v", session.UID, res.Error)
		warnings = append(warnings, "не удалось сохранить профиль пользователя")
	}

	res := models.OK(session)
	res.Warnings = warnings
	return res
}

// Login authenticates and repairs the profile record when it is missing a
// role, so older accounts pick up the default.
func (s *CredentialService) Login(ctx context.Context, email, password string) models.Result[*authapi.Session] {
	session, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		log.Printf("auth: sign-in of %s failed: %v", email, err)
		return models.Fail[*authapi.Session](authapi.LocalizeError(err))
	}

	res := models.OK(session)
	profile := s.store.GetProfile(ctx, session.UID)
	if profile.Data.Role == "" {
		repair := models.Profile{
			Email:       email,
			DisplayName: session.DisplayName,
			Role:        models.RoleUser,
			CreatedAt:   timestamp(),
		}
		if saved := s.store.SaveProfile(ctx, session.UID, repair); !saved.Success {
			log.Printf("auth: failed to repair profile for %s: %v", session.UID, saved.Error)
			res.Warnings = append(res.Warnings, "не удалось обновить профиль пользователя")
		}
	}
	return res
}

func (s *CredentialService) Logout(ctx context.Context) models.Result[models.None] {
	if err := s.provider.SignOut(ctx); err != nil {
		log.Printf("auth: sign-out failed: %v", err)
		return models.Fail[models.None](failureMessage(err))
	}
	return models.Done()
}

// ResetPassword triggers the out-of-band reset flow for email.
func (s *CredentialService) ResetPassword(ctx context.Context, email string) models.Result[models.None] {
	if err := s.provider.SendReset(ctx, email); err != nil {
		log.Printf("auth: reset for %s failed: %v", email, err)
		return models.Fail[models.None](failureMessage(err))
	}
	return models.Done()
}

// OnAuthChange registers fn for auth transitions; it fires once with the
// current state. The returned function unsubscribes.
func (s *CredentialService) OnAuthChange(fn authapi.StateFunc) func() {
	return s.provider.SubscribeState(fn)
}

// CurrentSession is a synchronous read of the cached session, nil when
// signed out.
func (s *CredentialService) CurrentSession() *authapi.Session {
	return s.provider.CurrentSession()
}

// failureMessage localizes coded credential errors and passes everything
// else through verbatim.
func failureMessage(err error) string {
	var ae *authapi.Error
	if errors.As(err, &ae) {
		return authapi.Localize(ae.Code)
	}
	return err.Error()
}
