package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Anomyking/RP/internal/config"
	"github.com/Anomyking/RP/internal/domain"
	"github.com/Anomyking/RP/internal/repo"
)

// ErrEmailTaken indicates a principal already exists for the email.
var ErrEmailTaken = errors.New("email already registered")

// CreatePrincipal hashes the password and inserts a new principal.
func CreatePrincipal(ctx context.Context, r repo.Repo, name, email, password string, role domain.Role) (domain.Principal, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return domain.Principal{}, errors.New("name is required")
	}
	if email == "" || !strings.Contains(email, "@") {
		return domain.Principal{}, errors.New("valid email is required")
	}
	if len(password) < 8 {
		return domain.Principal{}, errors.New("password must be at least 8 characters")
	}
	if !domain.ValidRole(role) {
		return domain.Principal{}, fmt.Errorf("unknown role %q", role)
	}
	if _, err := r.GetPrincipalByEmail(ctx, email); err == nil {
		return domain.Principal{}, ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Principal{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("hash password: %w", err)
	}
	p := domain.Principal{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertPrincipal(ctx, p); err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

// VerifyPassword checks a login attempt against the stored hash.
func VerifyPassword(p domain.Principal, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) == nil
}

// EnsureInitialAdmin seeds the configured superadmin account at
// process start so a fresh deployment is never locked out.
func EnsureInitialAdmin(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	if cfg == nil || strings.TrimSpace(cfg.InitialAdmin.Email) == "" {
		return nil
	}
	_, err := r.GetPrincipalByEmail(ctx, cfg.InitialAdmin.Email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	name := cfg.InitialAdmin.Name
	if name == "" {
		name = "Administrator"
	}
	p, err := CreatePrincipal(ctx, r, name, cfg.InitialAdmin.Email, cfg.InitialAdmin.Password, domain.RoleSuperadmin)
	if err != nil {
		return fmt.Errorf("seed initial admin: %w", err)
	}
	log.Printf("seeded initial superadmin %s (%s)", p.Email, p.ID)
	return nil
}
