package authapi

import "context"

// Session is an authenticated end-user session. UID is the opaque
// identity every stored record is keyed by.
type Session struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Token       string `json:"token,omitempty"`
}

// StateFunc observes auth transitions. It receives the new session on
// sign-in and nil on sign-out.
type StateFunc func(s *Session)

// Provider is the credential-service contract. Failures that have a
// user-facing meaning come back as *Error with a stable code.
type Provider interface {
	CreateAccount(ctx context.Context, email, password string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// SendReset triggers the out-of-band credential reset flow for email.
	SendReset(ctx context.Context, email string) error
	UpdateDisplayName(ctx context.Context, uid, name string) error
	// CurrentSession is a synchronous read of the cached session, nil when
	// signed out.
	CurrentSession() *Session
	// SubscribeState registers fn for auth transitions and invokes it once
	// with the current state. The returned function unsubscribes.
	SubscribeState(fn StateFunc) (unsubscribe func())
	// VerifyToken resolves a bearer token to the identity it was issued to.
	VerifyToken(token string) (uid string, err error)
}

// ResetNotifier delivers reset tokens out of band (mail worker, queue).
// A nil notifier means reset requests are only recorded in the store.
type ResetNotifier interface {
	PasswordResetRequested(email, token string) error
}
