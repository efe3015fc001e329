package authapi

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"bazaar/internal/treestore"
)

const (
	accountsRoot = "auth/accounts"
	emailIndex   = "auth/index"
	resetsRoot   = "auth/resets"

	minPasswordLen = 6

	// Consecutive sign-in failures tolerated per email before the
	// throttle answers too-many-requests.
	maxFailedAttempts = 5
	attemptWindow     = 15 * time.Minute
)

// account is the stored credential record, separate from the public
// profile under users/{id}.
type account struct {
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	DisplayName  string `json:"displayName,omitempty"`
	Disabled     bool   `json:"disabled,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

type failedAttempts struct {
	count int
	last  time.Time
}

// LocalProvider implements Provider on top of the tree store: bcrypt
// password hashes, JWT session tokens and an in-memory view of the
// current session. It stands in for the hosted identity vendor the
// storefront originally talked to.
type LocalProvider struct {
	store      treestore.Store
	jwtSecret  []byte
	tokenDurat time.Duration
	validate   *validator.Validate
	notifier   ResetNotifier

	mu        sync.Mutex
	session   *Session
	listeners map[int]StateFunc
	nextID    int
	attempts  map[string]failedAttempts
}

func NewLocalProvider(store treestore.Store, jwtSecret string, notifier ResetNotifier) *LocalProvider {
	return &LocalProvider{
		store:      store,
		jwtSecret:  []byte(jwtSecret),
		tokenDurat: 24 * time.Hour,
		validate:   validator.New(),
		notifier:   notifier,
		listeners:  make(map[int]StateFunc),
		attempts:   make(map[string]failedAttempts),
	}
}

func (p *LocalProvider) CreateAccount(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := p.validate.Var(email, "required,email"); err != nil {
		return nil, codeError(CodeInvalidEmail)
	}
	if len(password) < minPasswordLen {
		return nil, codeError(CodeWeakPassword)
	}

	taken, _, err := p.lookupEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, codeError(CodeEmailAlreadyInUse)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	uid := uuid.NewString()
	acc := account{
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.store.Write(ctx, accountPath(uid), acc); err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}
	if err := p.store.Write(ctx, indexPath(email), map[string]any{"uid": uid}); err != nil {
		return nil, fmt.Errorf("failed to index account: %w", err)
	}

	return p.openSession(uid, email, "")
}

func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if p.throttled(email) {
		return nil, codeError(CodeTooManyRequests)
	}

	found, uid, err := p.lookupEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, codeError(CodeUserNotFound)
	}

	snap, err := p.store.Read(ctx, accountPath(uid))
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	if !snap.Exists {
		return nil, codeError(CodeUserNotFound)
	}
	var acc account
	if err := snap.Decode(&acc); err != nil {
		return nil, fmt.Errorf("corrupt account record: %w", err)
	}
	if acc.Disabled {
		return nil, codeError(CodeUserDisabled)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		p.recordFailure(email)
		return nil, codeError(CodeWrongPassword)
	}
	p.clearFailures(email)

	return p.openSession(uid, acc.Email, acc.DisplayName)
}

func (p *LocalProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.session = nil
	fns := p.listenerList()
	p.mu.Unlock()
	for _, fn := range fns {
		fn(nil)
	}
	return nil
}

func (p *LocalProvider) SendReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	found, uid, err := p.lookupEmail(ctx, email)
	if err != nil {
		return err
	}
	if !found {
		return codeError(CodeUserNotFound)
	}

	token := uuid.NewString()
	record := map[string]any{
		"token":     token,
		"email":     email,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.store.Write(ctx, resetsRoot+"/"+uid, record); err != nil {
		return fmt.Errorf("failed to record reset request: %w", err)
	}
	if p.notifier != nil {
		if err := p.notifier.PasswordResetRequested(email, token); err != nil {
			return fmt.Errorf("failed to deliver reset token: %w", err)
		}
	}
	return nil
}

func (p *LocalProvider) UpdateDisplayName(ctx context.Context, uid, name string) error {
	err := p.store.Merge(ctx, accountPath(uid), map[string]any{"displayName": name})
	if err != nil {
		return fmt.Errorf("failed to update display name: %w", err)
	}
	p.mu.Lock()
	if p.session != nil && p.session.UID == uid {
		p.session.DisplayName = name
	}
	p.mu.Unlock()
	return nil
}

func (p *LocalProvider) CurrentSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	s := *p.session
	return &s
}

func (p *LocalProvider) SubscribeState(fn StateFunc) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := p.session
	p.mu.Unlock()

	fn(current)
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *LocalProvider) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	uid, ok := claims["uid"].(string)
	if !ok || uid == "" {
		return "", fmt.Errorf("invalid token: missing uid claim")
	}
	return uid, nil
}

// openSession issues a token, caches the session and tells the listeners.
func (p *LocalProvider) openSession(uid, email, displayName string) (*Session, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":   uid,
		"email": email,
		"exp":   time.Now().Add(p.tokenDurat).Unix(),
		"iat":   time.Now().Unix(),
	})
	signed, err := token.SignedString(p.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	session := &Session{UID: uid, Email: email, DisplayName: displayName, Token: signed}
	p.mu.Lock()
	p.session = session
	fns := p.listenerList()
	p.mu.Unlock()
	for _, fn := range fns {
		fn(session)
	}
	out := *session
	return &out, nil
}

// listenerList must be called with p.mu held.
func (p *LocalProvider) listenerList() []StateFunc {
	fns := make([]StateFunc, 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func (p *LocalProvider) lookupEmail(ctx context.Context, email string) (found bool, uid string, err error) {
	snap, err := p.store.Read(ctx, indexPath(email))
	if err != nil {
		return false, "", fmt.Errorf("failed to look up email: %w", err)
	}
	if !snap.Exists {
		return false, "", nil
	}
	var entry struct {
		UID string `json:"uid"`
	}
	if err := snap.Decode(&entry); err != nil {
		return false, "", fmt.Errorf("corrupt email index: %w", err)
	}
	return entry.UID != "", entry.UID, nil
}

func (p *LocalProvider) throttled(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	att, ok := p.attempts[attemptKey(email)]
	if !ok {
		return false
	}
	if time.Since(att.last) > attemptWindow {
		delete(p.attempts, attemptKey(email))
		return false
	}
	return att.count >= maxFailedAttempts
}

func (p *LocalProvider) recordFailure(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	att := p.attempts[attemptKey(email)]
	if time.Since(att.last) > attemptWindow {
		att.count = 0
	}
	att.count++
	att.last = time.Now()
	p.attempts[attemptKey(email)] = att
	if att.count >= maxFailedAttempts {
		log.Printf("authapi: sign-in throttled for %s after %d failures", email, att.count)
	}
}

func (p *LocalProvider) clearFailures(email string) {
	p.mu.Lock()
	delete(p.attempts, attemptKey(email))
	p.mu.Unlock()
}

func accountPath(uid string) string { return accountsRoot + "/" + uid }

// indexPath keys the email index. Dots and slashes cannot appear in path
// segments, so they are swapped for safe characters, vendor-style.
func indexPath(email string) string {
	r := strings.NewReplacer(".", ",", "/", "|")
	return emailIndex + "/" + r.Replace(strings.ToLower(email))
}

func attemptKey(email string) string { return strings.ToLower(email) }
