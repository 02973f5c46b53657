package providers

import (
	"context"
	"errors"

	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
	"github.com/gogotex/gogotex/backend/auth-service/internal/models"
	"github.com/gogotex/gogotex/backend/auth-service/internal/tokens"
	"github.com/gogotex/gogotex/backend/auth-service/internal/users"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/logger"
)

// Local authenticates email/password accounts stored in the user repository.
type Local struct {
	tokens   *tokens.Manager
	users    *users.Service
	denylist Denylist
	// compared against when the email is unknown so both failure paths cost one bcrypt check
	dummyHash string
}

func NewLocal(tm *tokens.Manager, svc *users.Service, dl Denylist) (*Local, error) {
	dummy, err := svc.Hasher().Unusable()
	if err != nil {
		return nil, err
	}
	return &Local{tokens: tm, users: svc, denylist: dl, dummyHash: dummy}, nil
}

func (l *Local) Name() string { return models.LocalProvider }

// Authenticate checks {"email","password"}. Every failure, unknown email
// included, is reported as the same InvalidCredentials error.
func (l *Local) Authenticate(ctx context.Context, creds Credentials) (*AuthResult, error) {
	log := logger.FromContext(ctx)

	u, err := l.users.GetByEmail(ctx, creds["email"])
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		return nil, autherr.Service("look up user", err)
	}

	hash := l.dummyHash
	usable := u != nil && u.PasswordHash != nil && u.IsLocal() && u.Active
	if usable {
		hash = *u.PasswordHash
	}
	ok, err := l.users.Hasher().Verify(creds["password"], hash)
	if err != nil && usable {
		log.Warnw("stored password hash is unreadable", "userId", u.ID, "err", err)
	}
	if !usable || !ok {
		return nil, autherr.InvalidCredentials()
	}
	return issuePair(l.tokens, u, l.Name())
}

// Register creates a local account from {"email","password","name"}.
func (l *Local) Register(ctx context.Context, data Credentials) (*AuthResult, error) {
	u, err := l.users.RegisterLocal(ctx, data["email"], data["password"], data["name"])
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infow("registered local user", "userId", u.ID)
	return issuePair(l.tokens, u, l.Name())
}

// UserFromToken verifies a session access token, checks the denylist and
// loads the user.
func (l *Local) UserFromToken(ctx context.Context, tok string) (*models.User, error) {
	return sessionUser(ctx, l.tokens, l.denylist, l.users, tok, "")
}

// Revoke denylists tok until its own expiry.
func (l *Local) Revoke(ctx context.Context, tok string) error {
	jti, exp, err := l.tokens.RevocationEntry(tok)
	if err != nil {
		return err
	}
	return l.denylist.Revoke(ctx, jti, exp)
}
