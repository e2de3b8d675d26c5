package muser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kyri56xcaesar/teamcore/internal/apperr"
	"kyri56xcaesar/teamcore/internal/authmw"
	"kyri56xcaesar/teamcore/internal/models"
	"kyri56xcaesar/teamcore/internal/store"
)

type fakeProvisioner struct {
	calls []string
	err   error
}

func (f *fakeProvisioner) Provision(_ context.Context, email, _, _ string) error {
	f.calls = append(f.calls, email)
	return f.err
}

func newService(t *testing.T, prov Provisioner) (context.Context, *store.Memory, *Service, *authmw.Sessions) {
	t.Helper()
	sessions, err := authmw.NewSessions("test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := store.NewMemory()
	return context.Background(), s, NewService(s, sessions, prov), sessions
}

func seedUser(t *testing.T, ctx context.Context, s *store.Memory, u *models.User) {
	t.Helper()
	err := s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateUser(ctx, u) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogin(t *testing.T) {
	ctx, s, svc, sessions := newService(t, nil)
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	seedUser(t, ctx, s, &models.User{Email: "ada@example.com", Name: "ada", Role: models.RoleAdmin, Password: string(hash)})

	var unauthorized *apperr.UnauthorizedError
	if _, err := svc.Login(ctx, "ada@example.com", "wrong"); !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError for bad password, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "hunter22"); !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError for unknown email, got %v", err)
	}

	sess, err := svc.Login(ctx, "  ADA@example.com ", "hunter22")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.User.LastSeenAt == nil {
		t.Fatalf("expected login to record lastSeenAt")
	}

	id, err := sessions.Authenticate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if id.UserID != sess.User.ID || id.Role != models.RoleAdmin {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestLogin_UpgradesLegacyCredential(t *testing.T) {
	ctx, s, svc, _ := newService(t, nil)
	u := &models.User{Email: "old@example.com", Name: "old", Role: models.RoleMember, Password: "plain123"}
	seedUser(t, ctx, s, u)

	if _, err := svc.Login(ctx, "old@example.com", "plain123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := s.WithTx(ctx, func(tx store.Tx) error {
		got, err := tx.GetUserByID(ctx, u.ID)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(got.Password, bcryptPrefix) {
			t.Errorf("expected credential to be rehashed, got %q", got.Password)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Login(ctx, "old@example.com", "plain123"); err != nil {
		t.Fatalf("expected login with the upgraded hash to succeed, got %v", err)
	}
}

func TestInviteAndChangePassword(t *testing.T) {
	prov := &fakeProvisioner{}
	ctx, _, svc, sessions := newService(t, prov)

	inv, err := svc.Invite(ctx, "New.Member@Example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.User.Name != "new.member" || inv.User.Role != models.RoleMember || !inv.User.MustChangePassword {
		t.Fatalf("unexpected invited user %+v", inv.User)
	}
	if len(inv.TemporaryPassword) != tempPasswordLen || !inv.Provisioned || len(prov.calls) != 1 {
		t.Fatalf("unexpected invitation %+v (calls %v)", inv, prov.calls)
	}

	var conflict *apperr.ConflictError
	if _, err := svc.Invite(ctx, "new.member@example.com"); !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}

	sess, err := svc.Login(ctx, "new.member@example.com", inv.TemporaryPassword)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, _ := sessions.Authenticate(ctx, sess.Token)
	if !id.MustChangePassword {
		t.Fatalf("expected the first session to require a password change")
	}

	if pending, err := svc.MustChangePassword(ctx, id.UserID); err != nil || !pending {
		t.Fatalf("expected a pending change, got %v err=%v", pending, err)
	}

	var ve *apperr.ValidationError
	if _, err := svc.ChangePassword(ctx, id.UserID, "short"); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	changed, err := svc.ChangePassword(ctx, id.UserID, "a-better-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed.User.MustChangePassword {
		t.Fatalf("expected flag to be cleared")
	}
	id, err = sessions.Authenticate(ctx, changed.Token)
	if err != nil || id.MustChangePassword {
		t.Fatalf("expected a fresh unrestricted token, got %+v err=%v", id, err)
	}
	if pending, err := svc.MustChangePassword(ctx, id.UserID); err != nil || pending {
		t.Fatalf("expected no pending change, got %v err=%v", pending, err)
	}
	if pending, err := svc.MustChangePassword(ctx, 9999); err != nil || pending {
		t.Fatalf("expected unknown users to report no pending change, got %v err=%v", pending, err)
	}

	if _, err := svc.Login(ctx, "new.member@example.com", inv.TemporaryPassword); err == nil {
		t.Fatalf("expected the temporary password to stop working")
	}
}

func TestInvite_ProvisionFailureKeepsLocalUser(t *testing.T) {
	prov := &fakeProvisioner{err: errors.New("realm unreachable")}
	ctx, _, svc, _ := newService(t, prov)

	inv, err := svc.Invite(ctx, "x@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.Provisioned {
		t.Fatalf("expected provisioning to be reported as failed")
	}
}

func TestLeaderboard(t *testing.T) {
	ctx, s, svc, _ := newService(t, nil)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	recent := now.Add(-time.Minute)
	stale := now.Add(-time.Hour)
	ada := &models.User{Email: "ada@example.com", Name: "ada", Role: models.RoleMember, LastSeenAt: &stale}
	bob := &models.User{Email: "bob@example.com", Name: "bob", Role: models.RoleMember, LastSeenAt: &recent}
	cy := &models.User{Email: "cy@example.com", Name: "cy", Role: models.RoleMember}
	for _, u := range []*models.User{ada, bob, cy} {
		seedUser(t, ctx, s, u)
	}

	err := s.WithTx(ctx, func(tx store.Tx) error {
		tasks := []models.Task{
			{BranchID: 1, Title: "a", Points: 3, Status: models.TaskCompleted, AssignedToID: &bob.ID},
			{BranchID: 1, Title: "b", Points: 5, Status: models.TaskCompleted, AssignedToID: &bob.ID},
			{BranchID: 1, Title: "c", Points: 2, Status: models.TaskCompleted, AssignedToID: &ada.ID},
			{BranchID: 1, Title: "d", Points: 100, Status: models.TaskTaken, AssignedToID: &ada.ID},
		}
		for i := range tasks {
			if err := tx.CreateTask(ctx, &tasks[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	board, err := svc.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []struct {
		name   string
		score  int
		online bool
	}{
		{"bob", 8, true},
		{"ada", 2, false},
		{"cy", 0, false},
	}
	if len(board) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(board))
	}
	for i, w := range want {
		got := board[i]
		if got.Name != w.name || got.TotalScore != w.score || got.IsOnline != w.online {
			t.Fatalf("entry %d: expected %+v, got %+v", i, w, got)
		}
	}
}

func TestResolveExternal(t *testing.T) {
	ctx, _, svc, _ := newService(t, nil)

	first, err := svc.ResolveExternal(ctx, "Kc.User@example.com", "", models.RoleMember)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Name != "kc.user" || first.Role != models.RoleMember {
		t.Fatalf("unexpected user %+v", first)
	}

	again, err := svc.ResolveExternal(ctx, "kc.user@example.com", "Someone", models.RoleAdmin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected the same local user, got %d and %d", first.ID, again.ID)
	}

	// external users have no local credential
	var unauthorized *apperr.UnauthorizedError
	if _, err := svc.Login(ctx, "kc.user@example.com", ""); !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
}
