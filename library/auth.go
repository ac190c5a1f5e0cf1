package library

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const minPasswordLength = 5

// AuthOptions configures hashing cost and login throttling.
type AuthOptions struct {
	BcryptCost  int
	MaxAttempts int           // burst of attempts allowed before throttling
	Window      time.Duration // time for the full burst to refill
}

// DefaultAuthOptions returns production defaults.
func DefaultAuthOptions() AuthOptions {
	return AuthOptions{BcryptCost: bcrypt.DefaultCost, MaxAttempts: 5, Window: time.Minute}
}

// Authenticator verifies the librarian credential held by a Store.
type Authenticator struct {
	store   *Store
	cost    int
	limiter *rate.Limiter

	// dummy is compared against when no credential exists so that a missing
	// credential costs the same time as a wrong password.
	dummy []byte
}

func NewAuthenticator(store *Store, opts AuthOptions) *Authenticator {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	a := &Authenticator{store: store, cost: opts.BcryptCost}
	if opts.MaxAttempts > 0 && opts.Window > 0 {
		a.limiter = rate.NewLimiter(rate.Every(opts.Window/time.Duration(opts.MaxAttempts)), opts.MaxAttempts)
	}
	a.dummy, _ = bcrypt.GenerateFromPassword([]byte("unused-credential"), a.cost)
	return a
}

// Authenticate checks username and secret against the stored credential. Any
// mismatch yields the same ErrAuthFailure.
func (a *Authenticator) Authenticate(username, secret string) error {
	if a.limiter != nil && !a.limiter.Allow() {
		return ErrTooManyAttempts
	}
	cred, ok := a.store.Credential()
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummy, []byte(secret))
		return ErrAuthFailure
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cred.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(secret)) == nil
	if !userOK || !passOK {
		return ErrAuthFailure
	}
	return nil
}

// SetCredential replaces the stored credential with username and a fresh hash of secret.
func (a *Authenticator) SetCredential(username, secret string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if !validText(username) {
		return fmt.Errorf("%w: username is not valid UTF-8", ErrInvalidInput)
	}
	if len(secret) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), a.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	a.store.setCredential(Credential{Username: username, PasswordHash: string(hash)})
	return nil
}

// ChangePassword sets a new secret after verifying the current one.
func (a *Authenticator) ChangePassword(oldSecret, newSecret string) error {
	cred, ok := a.store.Credential()
	if !ok {
		return ErrAuthFailure
	}
	if err := a.Authenticate(cred.Username, oldSecret); err != nil {
		return err
	}
	return a.SetCredential(cred.Username, newSecret)
}
