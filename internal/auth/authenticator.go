package auth

import (
	"context"
	"errors"

	"github.com/taskhubio/taskhub/internal/domain/user"
	"github.com/taskhubio/taskhub/internal/security"
)

// ErrInvalidCredentials is returned for unknown email and wrong password
// alike; login callers never learn which one it was.
var ErrInvalidCredentials = errors.New("invalid credentials")

// dummyHash is a bcrypt digest of a throwaway string. When the email lookup
// misses we still run a compare against it so the unknown-email path costs
// roughly the same as the wrong-password path.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type UserReader interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
}

// Authenticator combines the store lookup with password verification for
// login attempts.
type Authenticator struct {
	users UserReader
}

func NewAuthenticator(users UserReader) *Authenticator {
	return &Authenticator{users: users}
}

// Authenticate resolves the user for an email/password pair.
// Both failure modes collapse into ErrInvalidCredentials.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (user.User, error) {
	u, err := a.users.GetByEmail(ctx, user.NormalizeEmail(email))

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// burn the same bcrypt cost as a real verification
			_ = security.CheckPassword(dummyHash, password)
			return user.User{}, ErrInvalidCredentials
		}

		return user.User{}, err
	}

	if err := security.CheckPassword(u.PasswordHash, password); err != nil {
		return user.User{}, ErrInvalidCredentials
	}

	return u, nil
}
