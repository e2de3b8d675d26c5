package mbranch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kyri56xcaesar/teamcore/internal/apperr"
	"kyri56xcaesar/teamcore/internal/models"
	"kyri56xcaesar/teamcore/internal/store"
)

func setup(t *testing.T) (context.Context, *store.Memory, *Engine, int64, int64) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()

	var userID, branchID int64
	err := s.WithTx(ctx, func(tx store.Tx) error {
		u := &models.User{Email: "ada@example.com", Name: "ada", Role: models.RoleMember}
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		p := &models.Project{Name: "core"}
		if err := tx.CreateProject(ctx, p); err != nil {
			return err
		}
		b := &models.Branch{ProjectID: p.ID, Name: "frontend"}
		if err := tx.CreateBranch(ctx, b); err != nil {
			return err
		}
		userID, branchID = u.ID, b.ID
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ctx, s, NewEngine(s), userID, branchID
}

func rowsFor(t *testing.T, ctx context.Context, s *store.Memory, userID, branchID int64) []models.Ownership {
	t.Helper()
	var rows []models.Ownership
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListOwnerships(ctx, store.OwnershipFilter{UserID: userID, BranchIDs: []int64{branchID}})
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rows
}

func TestOwnLeaveSequence_SingleRow(t *testing.T) {
	ctx, s, e, userID, branchID := setup(t)

	steps := []struct {
		op       string
		wantErr  any
		wantStat models.OwnershipStatus
	}{
		{"own", nil, models.OwnershipActive},
		{"own", &apperr.AlreadyOwnedError{}, models.OwnershipActive},
		{"leave", nil, models.OwnershipPaused},
		{"leave", &apperr.NotOwnedError{}, models.OwnershipPaused},
		{"own", nil, models.OwnershipActive},
		{"leave", nil, models.OwnershipPaused},
		{"own", nil, models.OwnershipActive},
	}

	for i, step := range steps {
		var err error
		if step.op == "own" {
			_, err = e.Own(ctx, userID, branchID)
		} else {
			_, err = e.Leave(ctx, userID, branchID)
		}

		switch want := step.wantErr.(type) {
		case nil:
			if err != nil {
				t.Fatalf("step %d %s: unexpected error: %v", i, step.op, err)
			}
		case *apperr.AlreadyOwnedError:
			if !errors.As(err, &want) {
				t.Fatalf("step %d: expected AlreadyOwnedError, got %v", i, err)
			}
		case *apperr.NotOwnedError:
			if !errors.As(err, &want) {
				t.Fatalf("step %d: expected NotOwnedError, got %v", i, err)
			}
		}

		rows := rowsFor(t, ctx, s, userID, branchID)
		if len(rows) != 1 {
			t.Fatalf("step %d: expected exactly one row, got %d", i, len(rows))
		}
		if rows[0].Status != step.wantStat {
			t.Fatalf("step %d: expected %s, got %s", i, step.wantStat, rows[0].Status)
		}
	}
}

func TestOwn_RejoinResetsRole(t *testing.T) {
	ctx, s, e, userID, branchID := setup(t)

	o, err := e.Own(ctx, userID, branchID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Role != models.ContributorRole {
		t.Fatalf("expected CONTRIBUTOR, got %s", o.Role)
	}

	// promote out of band, then leave and rejoin
	err = s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.UpdateOwnership(ctx, o.ID, models.OwnerRole, models.OwnershipActive)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	left, err := e.Leave(ctx, userID, branchID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if left.Role != models.OwnerRole {
		t.Fatalf("leave must keep the role, got %s", left.Role)
	}

	back, err := e.Own(ctx, userID, branchID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.ID != o.ID || back.Role != models.ContributorRole || back.Status != models.OwnershipActive {
		t.Fatalf("expected same row reactivated as CONTRIBUTOR, got %+v", back)
	}
}

func TestOwn_MissingBranch(t *testing.T) {
	ctx, _, e, userID, _ := setup(t)

	var nf *apperr.NotFoundError
	if _, err := e.Own(ctx, userID, 999); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if _, err := e.Leave(ctx, userID, 999); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestOwn_ConcurrentFirstClaims(t *testing.T) {
	ctx, s, e, userID, branchID := setup(t)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Own(ctx, userID, branchID)
			var already *apperr.AlreadyOwnedError
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else if !errors.As(err, &already) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected one successful claim, got %d", success)
	}
	if rows := rowsFor(t, ctx, s, userID, branchID); len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
}

func TestMyAreasAndOwners(t *testing.T) {
	ctx, s, e, userID, branchID := setup(t)

	var otherID int64
	err := s.WithTx(ctx, func(tx store.Tx) error {
		u := &models.User{Email: "bob@example.com", Name: "bob", Role: models.RoleMember}
		err := tx.CreateUser(ctx, u)
		otherID = u.ID
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, uid := range []int64{userID, otherID} {
		if _, err := e.Own(ctx, uid, branchID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	owners, err := e.Owners(ctx, branchID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(owners) != 2 || owners[0].Name != "ada" {
		t.Fatalf("expected co-owners ada and bob, got %+v", owners)
	}

	areas, err := e.MyAreas(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(areas) != 1 || areas[0].Branch.ID != branchID || areas[0].Project.Name != "core" {
		t.Fatalf("unexpected areas %+v", areas)
	}

	if _, err := e.Leave(ctx, userID, branchID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	areas, err = e.MyAreas(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(areas) != 0 {
		t.Fatalf("paused ownerships must not be listed, got %+v", areas)
	}
}
