// Package muser manages accounts: password login, password changes, admin
// invitations and the points leaderboard.
package muser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kyri56xcaesar/teamcore/internal/apperr"
	"kyri56xcaesar/teamcore/internal/models"
	"kyri56xcaesar/teamcore/internal/store"
	"kyri56xcaesar/teamcore/internal/utils"
)

// TokenIssuer signs a session token for a user.
type TokenIssuer interface {
	Issue(u *models.User) (string, error)
}

// Provisioner mirrors invited users into an external identity provider.
type Provisioner interface {
	Provision(ctx context.Context, email, name, tempPassword string) error
}

type Service struct {
	store       store.Store
	tokens      TokenIssuer
	provisioner Provisioner
	now         func() time.Time
}

// NewService wires the account service. tokens is nil when sessions are
// issued elsewhere; provisioner is nil when invites stay local.
func NewService(s store.Store, tokens TokenIssuer, provisioner Provisioner) *Service {
	return &Service{store: s, tokens: tokens, provisioner: provisioner, now: time.Now}
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)

	var user *models.User
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUserByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Unauthorized("invalid credentials")
		}
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		upgrade, ok := checkPassword(u.Password, password)
		if !ok {
			return apperr.Unauthorized("invalid credentials")
		}
		if upgrade {
			hash, err := hashPassword(password)
			if err != nil {
				return err
			}
			if err := tx.UpdateUserPassword(ctx, u.ID, hash, u.MustChangePassword); err != nil {
				return fmt.Errorf("upgrade credential: %w", err)
			}
			log.Printf("upgraded legacy credential of user %d", u.ID)
		}

		now := s.now()
		if err := tx.TouchUser(ctx, u.ID, now); err != nil {
			return fmt.Errorf("touch user: %w", err)
		}
		u.LastSeenAt = &now
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.session(user)
}

// ChangePassword stores a new credential, clears the forced-change flag and
// returns a session reflecting it.
func (s *Service) ChangePassword(ctx context.Context, userID int64, password string) (*Session, error) {
	if len(password) < minPasswordLen {
		return nil, apperr.Validation("password must be at least %d characters", minPasswordLen)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	var user *models.User
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateUserPassword(ctx, userID, hash, false); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("user", userID)
			}
			return fmt.Errorf("update password: %w", err)
		}
		u, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.session(user)
}

// Invite creates a MEMBER with a temporary password that must be changed on
// first login.
func (s *Service) Invite(ctx context.Context, email string) (*Invitation, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validation("a valid email is required")
	}

	temp, err := utils.GenerateRandomString(tempPasswordLen)
	if err != nil {
		return nil, fmt.Errorf("generate temporary password: %w", err)
	}
	hash, err := hashPassword(temp)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		Email:              email,
		Name:               strings.SplitN(email, "@", 2)[0],
		Role:               models.RoleMember,
		Password:           hash,
		MustChangePassword: true,
	}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflict("user %s already exists", email)
			}
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	inv := &Invitation{User: *u, TemporaryPassword: temp}
	if s.provisioner != nil {
		if err := s.provisioner.Provision(ctx, u.Email, u.Name, temp); err != nil {
			log.Printf("failed to provision %s in the identity provider: %v", u.Email, err)
		} else {
			inv.Provisioned = true
		}
	}
	return inv, nil
}

func (s *Service) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	var (
		users     []models.User
		completed []models.Task
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if users, err = tx.ListUsers(ctx); err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		if completed, err = tx.ListTasks(ctx, store.TaskFilter{Status: models.TaskCompleted}); err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	score := map[int64]int{}
	for _, t := range completed {
		if t.AssignedToID != nil {
			score[*t.AssignedToID] += t.Points
		}
	}

	now := s.now()
	out := utils.Map(users, func(u models.User) LeaderboardEntry {
		return LeaderboardEntry{
			ID:         u.ID,
			Name:       u.Name,
			Email:      u.Email,
			Role:       u.Role,
			TotalScore: score[u.ID],
			IsOnline:   u.LastSeenAt != nil && now.Sub(*u.LastSeenAt) < onlineWindow,
			LastSeenAt: u.LastSeenAt,
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalScore > out[j].TotalScore })
	return out, nil
}

// Touch records activity of an authenticated user.
func (s *Service) Touch(ctx context.Context, userID int64, at time.Time) error {
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.TouchUser(ctx, userID, at)
	})
}

// ResolveExternal returns the local user behind an externally verified email,
// creating a MEMBER (or ADMIN, when the provider says so) on first sight.
func (s *Service) ResolveExternal(ctx context.Context, email, name string, role models.Role) (*models.User, error) {
	email = normalizeEmail(email)

	var out *models.User
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUserByEmail(ctx, email)
		if err == nil {
			out = u
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("get user: %w", err)
		}

		if name == "" {
			name = strings.SplitN(email, "@", 2)[0]
		}
		// no local credential, login goes through the provider
		u = &models.User{Email: email, Name: name, Role: role}
		if err := tx.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		log.Printf("created local user %d for external identity %s", u.ID, email)
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MustChangePassword reports the stored forced-change flag. Unknown users
// report false so that their tokens are retired.
func (s *Service) MustChangePassword(ctx context.Context, userID int64) (bool, error) {
	var pending bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUserByID(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		pending = u.MustChangePassword
		return nil
	})
	return pending, err
}

// EnsureAdmin creates the bootstrap admin account when it does not exist yet.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*models.User, bool, error) {
	email = normalizeEmail(email)
	hash, err := hashPassword(password)
	if err != nil {
		return nil, false, err
	}

	var (
		out     *models.User
		created bool
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUserByEmail(ctx, email)
		if err == nil {
			out = u
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("get user: %w", err)
		}
		u = &models.User{
			Email:              email,
			Name:               strings.SplitN(email, "@", 2)[0],
			Role:               models.RoleAdmin,
			Password:           hash,
			MustChangePassword: true,
		}
		if err := tx.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		out, created = u, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// --- helpers ---

func (s *Service) session(u *models.User) (*Session, error) {
	sess := &Session{User: *u}
	if s.tokens == nil {
		return sess, nil
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	sess.Token = token
	return sess, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// checkPassword reports whether password matches stored and whether stored is
// a legacy plaintext credential that should be rehashed.
func checkPassword(stored, password string) (upgrade, ok bool) {
	if stored == "" {
		return false, false
	}
	if strings.HasPrefix(stored, bcryptPrefix) {
		return false, bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	ok = stored == password
	return ok, ok
}
