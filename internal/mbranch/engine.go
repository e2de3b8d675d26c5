// Package mbranch tracks which users work on which branches. Ownership rows
// are never deleted by users: leaving a branch pauses the row and claiming it
// again reactivates the same row.
package mbranch

import (
	"context"
	"errors"
	"fmt"

	"kyri56xcaesar/teamcore/internal/apperr"
	"kyri56xcaesar/teamcore/internal/models"
	"kyri56xcaesar/teamcore/internal/store"
)

type Engine struct {
	store store.Store
}

func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Own claims branchID for userID as an ACTIVE CONTRIBUTOR.
func (e *Engine) Own(ctx context.Context, userID, branchID int64) (*models.Ownership, error) {
	var out *models.Ownership
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		if err := branchExists(ctx, tx, branchID); err != nil {
			return err
		}

		current, err := tx.GetOwnership(ctx, userID, branchID, true)
		if errors.Is(err, store.ErrNotFound) {
			o := &models.Ownership{
				UserID:   userID,
				BranchID: branchID,
				Role:     models.ContributorRole,
				Status:   models.OwnershipActive,
			}
			inserted, insErr := tx.InsertOwnership(ctx, o)
			if insErr != nil {
				return fmt.Errorf("insert ownership: %w", insErr)
			}
			if inserted {
				out = o
				return nil
			}
			// lost a race with a concurrent first claim, judge the winner's row
			current, err = tx.GetOwnership(ctx, userID, branchID, true)
		}
		if err != nil {
			return fmt.Errorf("get ownership: %w", err)
		}

		if current.Status == models.OwnershipActive {
			return &apperr.AlreadyOwnedError{BranchID: branchID, UserID: userID}
		}

		out, err = tx.UpdateOwnership(ctx, current.ID, models.ContributorRole, models.OwnershipActive)
		if err != nil {
			return fmt.Errorf("reactivate ownership %d: %w", current.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Leave pauses the caller's ACTIVE ownership of branchID.
func (e *Engine) Leave(ctx context.Context, userID, branchID int64) (*models.Ownership, error) {
	var out *models.Ownership
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		if err := branchExists(ctx, tx, branchID); err != nil {
			return err
		}

		current, err := tx.GetOwnership(ctx, userID, branchID, true)
		if errors.Is(err, store.ErrNotFound) {
			return &apperr.NotOwnedError{BranchID: branchID, UserID: userID}
		}
		if err != nil {
			return fmt.Errorf("get ownership: %w", err)
		}
		if current.Status != models.OwnershipActive {
			return &apperr.NotOwnedError{BranchID: branchID, UserID: userID}
		}

		out, err = tx.UpdateOwnership(ctx, current.ID, current.Role, models.OwnershipPaused)
		if err != nil {
			return fmt.Errorf("pause ownership %d: %w", current.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MyAreas lists the caller's ACTIVE ownerships with their branch and project.
func (e *Engine) MyAreas(ctx context.Context, userID int64) ([]Area, error) {
	var out []Area
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		owned, err := tx.ListOwnerships(ctx, store.OwnershipFilter{UserID: userID, Status: models.OwnershipActive})
		if err != nil {
			return fmt.Errorf("list ownerships: %w", err)
		}

		branches := map[int64]*models.Branch{}
		projects := map[int64]*models.Project{}
		out = make([]Area, 0, len(owned))
		for _, o := range owned {
			b, ok := branches[o.BranchID]
			if !ok {
				if b, err = tx.GetBranch(ctx, o.BranchID); err != nil {
					return fmt.Errorf("get branch %d: %w", o.BranchID, err)
				}
				branches[o.BranchID] = b
			}
			p, ok := projects[b.ProjectID]
			if !ok {
				if p, err = tx.GetProject(ctx, b.ProjectID); err != nil {
					return fmt.Errorf("get project %d: %w", b.ProjectID, err)
				}
				projects[b.ProjectID] = p
			}
			out = append(out, Area{Ownership: o, Branch: *b, Project: *p})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Owners lists the ACTIVE owners of a branch, oldest claim first.
func (e *Engine) Owners(ctx context.Context, branchID int64) ([]Owner, error) {
	var out []Owner
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		if err := branchExists(ctx, tx, branchID); err != nil {
			return err
		}
		byBranch, err := ActiveOwnersTx(ctx, tx, []int64{branchID})
		if err != nil {
			return err
		}
		out = byBranch[branchID]
		if out == nil {
			out = []Owner{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveOwnersTx groups the ACTIVE owners of branchIDs by branch.
func ActiveOwnersTx(ctx context.Context, tx store.Tx, branchIDs []int64) (map[int64][]Owner, error) {
	out := make(map[int64][]Owner, len(branchIDs))
	if len(branchIDs) == 0 {
		return out, nil
	}

	owned, err := tx.ListOwnerships(ctx, store.OwnershipFilter{BranchIDs: branchIDs, Status: models.OwnershipActive})
	if err != nil {
		return nil, fmt.Errorf("list ownerships: %w", err)
	}

	users := map[int64]*models.User{}
	for _, o := range owned {
		u, ok := users[o.UserID]
		if !ok {
			u, err = tx.GetUserByID(ctx, o.UserID)
			if errors.Is(err, store.ErrNotFound) {
				// ownership of a removed account, nothing to show
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get user %d: %w", o.UserID, err)
			}
			users[o.UserID] = u
		}
		out[o.BranchID] = append(out[o.BranchID], Owner{
			UserID: u.ID,
			Name:   u.Name,
			Email:  u.Email,
			Role:   o.Role,
			Since:  o.CreatedAt,
		})
	}
	return out, nil
}

func branchExists(ctx context.Context, tx store.Tx, branchID int64) error {
	if _, err := tx.GetBranch(ctx, branchID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("branch", branchID)
		}
		return fmt.Errorf("get branch %d: %w", branchID, err)
	}
	return nil
}
