// Package mtask is the task lifecycle engine: dependency gated claiming,
// submission, expiry of overdue claims and administrative task CRUD.
package mtask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kyri56xcaesar/teamcore/internal/apperr"
	"kyri56xcaesar/teamcore/internal/models"
	"kyri56xcaesar/teamcore/internal/store"
	"kyri56xcaesar/teamcore/internal/utils"
)

type Engine struct {
	store store.Store
	now   func() time.Time
}

func NewEngine(s store.Store) *Engine {
	return &Engine{store: s, now: time.Now}
}

// Take assigns an AVAILABLE task whose dependencies are all COMPLETED to userID.
func (e *Engine) Take(ctx context.Context, taskID, userID int64) (*models.Task, error) {
	var out *models.Task
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		task, err := getTask(ctx, tx, taskID, true)
		if err != nil {
			return err
		}
		if task.Status != models.TaskAvailable {
			return apperr.InvalidState("task %d is not available", taskID)
		}

		unmet, err := unmetDependencies(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if len(unmet) > 0 {
			return apperr.DependencyUnmet(taskID, unmet)
		}

		n, err := tx.TransitionTask(ctx, store.TaskTransition{
			ID:       taskID,
			From:     models.TaskAvailable,
			To:       models.TaskTaken,
			Assignee: &userID,
		})
		if err != nil {
			return fmt.Errorf("take task %d: %w", taskID, err)
		}
		if n == 0 {
			return apperr.InvalidState("task %d is not available", taskID)
		}

		out, err = getTask(ctx, tx, taskID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Submit records the caller's output for a task it holds and completes it.
func (e *Engine) Submit(ctx context.Context, userID int64, req SubmitRequest) (*SubmitResult, error) {
	outputURL := strings.TrimSpace(req.OutputURL)
	if outputURL == "" {
		return nil, apperr.Validation("output url is required")
	}
	if req.OutputType != "" && !models.OutputType(req.OutputType).Valid() {
		return nil, apperr.Validation("invalid output type %q", req.OutputType)
	}

	var out *SubmitResult
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		task, err := getTask(ctx, tx, req.TaskID, true)
		if err != nil {
			return err
		}
		if !task.AssignedTo(userID) {
			return &apperr.NotAssignedError{TaskID: req.TaskID, UserID: userID}
		}
		if task.Status != models.TaskTaken {
			return apperr.InvalidState("task %d is %s, only TAKEN tasks can be submitted", req.TaskID, task.Status)
		}

		outputType := task.OutputType
		if req.OutputType != "" {
			outputType = models.OutputType(req.OutputType)
		}

		sub := &models.Submission{
			TaskID:     task.ID,
			UserID:     userID,
			OutputType: outputType,
			OutputURL:  outputURL,
			Note:       strings.TrimSpace(req.Note),
		}
		if err := tx.CreateSubmission(ctx, sub); err != nil {
			return fmt.Errorf("create submission: %w", err)
		}

		n, err := tx.TransitionTask(ctx, store.TaskTransition{
			ID:           task.ID,
			From:         models.TaskTaken,
			FromAssignee: &userID,
			To:           models.TaskCompleted,
			KeepAssignee: true,
		})
		if err != nil {
			return fmt.Errorf("complete task %d: %w", task.ID, err)
		}
		if n == 0 {
			return apperr.InvalidState("task %d changed while submitting", task.ID)
		}

		done, err := getTask(ctx, tx, task.ID, false)
		if err != nil {
			return err
		}
		out = &SubmitResult{Submission: *sub, Task: *done}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SweepExpired releases every TAKEN task whose due date is before now.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.ExpireTasks(ctx, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sweep expired tasks: %w", err)
	}
	return n, nil
}

func (e *Engine) Create(ctx context.Context, req CreateTaskRequest) (*models.Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	points := 1
	if req.Points != nil {
		if *req.Points < 0 {
			return nil, apperr.Validation("points must not be negative")
		}
		points = *req.Points
	}
	outputType := models.OutputURL
	if req.OutputType != "" {
		outputType = models.OutputType(req.OutputType)
		if !outputType.Valid() {
			return nil, apperr.Validation("invalid output type %q", req.OutputType)
		}
	}
	dependsOn := utils.Uniq(req.DependsOn)

	var out *models.Task
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBranch(ctx, req.BranchID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("branch", req.BranchID)
			}
			return fmt.Errorf("get branch %d: %w", req.BranchID, err)
		}

		if len(dependsOn) > 0 {
			found, err := tx.ListTasks(ctx, store.TaskFilter{IDs: dependsOn})
			if err != nil {
				return fmt.Errorf("load dependencies: %w", err)
			}
			foundIDs := utils.Map(found, idOf)
			for _, id := range dependsOn {
				if !utils.Contains(foundIDs, id) {
					return apperr.NotFound("task", id)
				}
			}
		}

		task := &models.Task{
			BranchID:    req.BranchID,
			Title:       title,
			Description: strings.TrimSpace(req.Description),
			Points:      points,
			Status:      models.TaskAvailable,
			DueAt:       req.DueAt,
			OutputType:  outputType,
		}
		if err := tx.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("create task: %w", err)
		}

		if len(dependsOn) > 0 {
			deps := utils.Map(dependsOn, func(id int64) models.Dependency {
				return models.Dependency{TaskID: task.ID, DependsOnID: id}
			})
			if err := tx.CreateDependencies(ctx, deps); err != nil {
				return fmt.Errorf("create dependencies: %w", err)
			}
		}

		task.Dependencies = dependsOn
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies an administrative patch. Status may only be forced to
// AVAILABLE (which drops the assignee) or to COMPLETED for an assigned task.
func (e *Engine) Update(ctx context.Context, id int64, req UpdateTaskRequest) (*models.Task, error) {
	var patch store.TaskPatch
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, apperr.Validation("title must not be empty")
		}
		patch.Title = &title
	}
	patch.Description = req.Description
	if req.Points != nil && *req.Points < 0 {
		return nil, apperr.Validation("points must not be negative")
	}
	patch.Points = req.Points
	patch.DueAt = req.DueAt
	patch.ClearDueAt = req.ClearDueAt && req.DueAt == nil
	if req.OutputType != nil {
		ot := models.OutputType(*req.OutputType)
		if !ot.Valid() {
			return nil, apperr.Validation("invalid output type %q", *req.OutputType)
		}
		patch.OutputType = &ot
	}
	if req.Status != nil {
		st := models.TaskStatus(*req.Status)
		switch st {
		case models.TaskAvailable:
			patch.ClearAssignee = true
		case models.TaskCompleted:
		default:
			return nil, apperr.Validation("status can only be set to %s or %s", models.TaskAvailable, models.TaskCompleted)
		}
		patch.Status = &st
	}
	if patch.Empty() {
		return nil, apperr.Validation("provide fields to update")
	}

	var out *models.Task
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		task, err := getTask(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if patch.Status != nil && *patch.Status == models.TaskCompleted && task.AssignedToID == nil {
			return apperr.InvalidState("task %d has no assignee to complete it", id)
		}

		updated, err := tx.UpdateTask(ctx, id, patch)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("task", id)
			}
			return fmt.Errorf("update task %d: %w", id, err)
		}
		if err := fillDependencies(ctx, tx, []*models.Task{updated}); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) Delete(ctx context.Context, id int64) error {
	return e.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := getTask(ctx, tx, id, true); err != nil {
			return err
		}
		_, err := DeleteTasksTx(ctx, tx, []int64{id})
		return err
	})
}

// DeleteTasksTx removes tasks together with their dependency edges (either
// side) and submissions inside an open transaction.
func DeleteTasksTx(ctx context.Context, tx store.Tx, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := tx.DeleteDependencies(ctx, ids); err != nil {
		return 0, fmt.Errorf("delete dependencies: %w", err)
	}
	if err := tx.DeleteSubmissions(ctx, ids); err != nil {
		return 0, fmt.Errorf("delete submissions: %w", err)
	}
	n, err := tx.DeleteTasks(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	return n, nil
}

func (e *Engine) Get(ctx context.Context, id int64) (*models.Task, error) {
	var out *models.Task
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		task, err := getTask(ctx, tx, id, false)
		if err != nil {
			return err
		}
		if err := fillDependencies(ctx, tx, []*models.Task{task}); err != nil {
			return err
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns tasks newest first, each with its dependency ids. A branch
// filter takes precedence over a project filter.
func (e *Engine) List(ctx context.Context, f ListFilter) ([]models.Task, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("invalid status %q", f.Status)
	}
	sf := store.TaskFilter{
		Status:     f.Status,
		ProjectID:  f.ProjectID,
		AssignedTo: f.AssignedTo,
	}
	if f.BranchID != 0 {
		sf.BranchIDs = []int64{f.BranchID}
		sf.ProjectID = 0
	}

	var out []models.Task
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		tasks, err := tx.ListTasks(ctx, sf)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		ptrs := make([]*models.Task, len(tasks))
		for i := range tasks {
			ptrs[i] = &tasks[i]
		}
		if err := fillDependencies(ctx, tx, ptrs); err != nil {
			return err
		}
		out = tasks
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) MyTasks(ctx context.Context, userID int64) ([]models.Task, error) {
	return e.List(ctx, ListFilter{AssignedTo: userID})
}

// --- helpers ---

func idOf(t models.Task) int64 { return t.ID }

func getTask(ctx context.Context, tx store.Tx, id int64, forUpdate bool) (*models.Task, error) {
	task, err := tx.GetTask(ctx, id, forUpdate)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("task", id)
		}
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return task, nil
}

// unmetDependencies lists the prerequisites of taskID that are not COMPLETED.
// A dangling edge counts as unmet.
func unmetDependencies(ctx context.Context, tx store.Tx, taskID int64) ([]int64, error) {
	deps, err := tx.ListDependencies(ctx, []int64{taskID})
	if err != nil {
		return nil, fmt.Errorf("load dependencies of %d: %w", taskID, err)
	}
	if len(deps) == 0 {
		return nil, nil
	}

	targetIDs := utils.Map(deps, func(d models.Dependency) int64 { return d.DependsOnID })
	targets, err := tx.ListTasks(ctx, store.TaskFilter{IDs: targetIDs})
	if err != nil {
		return nil, fmt.Errorf("load dependency targets of %d: %w", taskID, err)
	}

	completed := make(map[int64]bool, len(targets))
	for _, t := range targets {
		completed[t.ID] = t.Status == models.TaskCompleted
	}
	return utils.Filter(utils.Uniq(targetIDs), func(id int64) bool { return !completed[id] }), nil
}

func fillDependencies(ctx context.Context, tx store.Tx, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	deps, err := tx.ListDependencies(ctx, ids)
	if err != nil {
		return fmt.Errorf("load dependencies: %w", err)
	}
	byTask := make(map[int64][]int64, len(tasks))
	for _, d := range deps {
		byTask[d.TaskID] = append(byTask[d.TaskID], d.DependsOnID)
	}
	for _, t := range tasks {
		t.Dependencies = byTask[t.ID]
	}
	return nil
}
