package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"civicreport/models"
	"civicreport/stores"
	authUtils "civicreport/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const minPasswordLength = 6

type AuthConfig struct {
	Secret      []byte
	TokenTTL    time.Duration
	AdminEmails []string
}

// Authenticator registers users, issues bearer tokens and turns tokens
// back into callers.
type Authenticator struct {
	users  stores.UserStore
	cfg    AuthConfig
	admins map[string]struct{}
	now    func() time.Time
}

func NewAuthenticator(users stores.UserStore, cfg AuthConfig) *Authenticator {
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, e := range cfg.AdminEmails {
		admins[e] = struct{}{}
	}
	return &Authenticator{users: users, cfg: cfg, admins: admins, now: time.Now}
}

type Registration struct {
	Name     string
	Email    string
	Password string
}

// Register stores a new user with a hashed password. Emails listed in
// AdminEmails register as admins.
func (a *Authenticator) Register(ctx context.Context, in Registration) (*models.User, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return nil, validationf("Name, email and password are required")
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		return nil, validationf("Password must be at least 6 characters")
	}

	if _, err := a.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, stores.ErrNotFound) {
		return nil, storeError(err)
	}

	role := models.RoleUser
	if _, ok := a.admins[email]; ok {
		role = models.RoleAdmin
	}
	now := a.now().UTC()
	user := &models.User{
		Name:      name,
		Email:     email,
		Password:  in.Password,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.HashPassword(); err != nil {
		return nil, storeError(err)
	}

	// The unique index still decides a race between two registrations.
	if err := a.users.Create(ctx, user); err != nil {
		if errors.Is(err, stores.ErrDuplicateKey) {
			return nil, ErrDuplicateEmail
		}
		return nil, storeError(err)
	}
	user.Password = ""
	return user, nil
}

type LoginResult struct {
	Token string
	User  *models.User
}

func (a *Authenticator) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := a.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, authError("Invalid credentials")
		}
		return nil, storeError(err)
	}
	if !user.ComparePassword(password) {
		return nil, authError("Invalid credentials")
	}

	token, err := authUtils.GenerateToken(user.ID.Hex(), string(user.Role), a.cfg.Secret, a.cfg.TokenTTL)
	if err != nil {
		return nil, storeError(err)
	}
	user.Password = ""
	return &LoginResult{Token: token, User: user}, nil
}

// Authenticate trusts the token payload. Use Verify before acting on it.
func (a *Authenticator) Authenticate(token string) (*Caller, error) {
	if token == "" {
		return nil, authError("Not authorized, no token provided")
	}
	claims, err := authUtils.ParseToken(token, a.cfg.Secret)
	if err != nil {
		return nil, authError("Not authorized, token failed")
	}
	id, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return nil, authError("Not authorized, token failed")
	}
	return &Caller{UserID: id, Role: models.Role(claims.Role)}, nil
}

// Verify re-reads the caller from the store, picking up role changes and
// rejecting tokens of removed accounts.
func (a *Authenticator) Verify(ctx context.Context, caller *Caller) (*Caller, error) {
	if caller == nil {
		return nil, authError("Not authorized, no token provided")
	}
	if caller.Verified {
		return caller, nil
	}
	user, err := a.users.FindByID(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, authError("User not found")
		}
		return nil, storeError(err)
	}
	return &Caller{
		UserID:   user.ID,
		Name:     user.Name,
		Email:    user.Email,
		Role:     user.Role,
		Verified: true,
	}, nil
}

// Profile returns the stored user behind caller, without its password.
func (a *Authenticator) Profile(ctx context.Context, caller *Caller) (*models.User, error) {
	if caller == nil {
		return nil, authError("Not authorized, no token provided")
	}
	user, err := a.users.FindByID(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, authError("User not found")
		}
		return nil, storeError(err)
	}
	user.Password = ""
	return user, nil
}
