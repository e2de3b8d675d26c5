// Package mproject aggregates projects, their branches and task progress, and
// owns the cascading removal of a project.
package mproject

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kyri56xcaesar/teamcore/internal/apperr"
	"kyri56xcaesar/teamcore/internal/mbranch"
	"kyri56xcaesar/teamcore/internal/models"
	"kyri56xcaesar/teamcore/internal/mtask"
	"kyri56xcaesar/teamcore/internal/store"
	"kyri56xcaesar/teamcore/internal/utils"
)

// ComputeStats counts completed tasks. Progress is the completed share in
// percent, rounded half up, and 0 for an empty set.
func ComputeStats(tasks []models.Task) Stats {
	completed := utils.Reduce(tasks, 0, func(acc int, t models.Task) int {
		if t.Status == models.TaskCompleted {
			return acc + 1
		}
		return acc
	})
	return newStats(len(tasks), completed)
}

func newStats(total, completed int) Stats {
	s := Stats{Total: total, Completed: completed}
	if total > 0 {
		s.Progress = (200*completed + total) / (2 * total)
	}
	return s
}

type Engine struct {
	store store.Store
}

func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

func (e *Engine) ListWithStats(ctx context.Context) ([]ProjectSummary, error) {
	var out []ProjectSummary
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		projects, err := tx.ListProjects(ctx)
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}
		branches, err := tx.ListBranches(ctx, nil)
		if err != nil {
			return fmt.Errorf("list branches: %w", err)
		}
		tasks, err := tx.ListTasks(ctx, store.TaskFilter{})
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}

		branchProject := make(map[int64]int64, len(branches))
		branchesByProject := map[int64][]models.Branch{}
		for _, b := range branches {
			branchProject[b.ID] = b.ProjectID
			branchesByProject[b.ProjectID] = append(branchesByProject[b.ProjectID], b)
		}
		tasksByProject := map[int64][]models.Task{}
		for _, t := range tasks {
			pid := branchProject[t.BranchID]
			tasksByProject[pid] = append(tasksByProject[pid], t)
		}

		out = make([]ProjectSummary, 0, len(projects))
		for _, p := range projects {
			servers, err := tx.ListServers(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("list servers of %d: %w", p.ID, err)
			}
			out = append(out, ProjectSummary{
				Project:  p,
				Branches: nonNil(branchesByProject[p.ID]),
				Servers:  servers,
				Stats:    ComputeStats(tasksByProject[p.ID]),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) Get(ctx context.Context, id int64) (*ProjectDetail, error) {
	var out *ProjectDetail
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := getProject(ctx, tx, id)
		if err != nil {
			return err
		}
		servers, err := tx.ListServers(ctx, id)
		if err != nil {
			return fmt.Errorf("list servers: %w", err)
		}
		branches, err := tx.ListBranches(ctx, []int64{id})
		if err != nil {
			return fmt.Errorf("list branches: %w", err)
		}
		tasks, err := tx.ListTasks(ctx, store.TaskFilter{ProjectID: id})
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}

		branchIDs := utils.Map(branches, func(b models.Branch) int64 { return b.ID })
		owners, err := mbranch.ActiveOwnersTx(ctx, tx, branchIDs)
		if err != nil {
			return err
		}

		tasksByBranch := map[int64][]models.Task{}
		for _, t := range tasks {
			tasksByBranch[t.BranchID] = append(tasksByBranch[t.BranchID], t)
		}
		details := make([]BranchDetail, 0, len(branches))
		for _, b := range branches {
			details = append(details, BranchDetail{
				Branch: b,
				Stats:  ComputeStats(tasksByBranch[b.ID]),
				Owners: nonNil(owners[b.ID]),
			})
		}

		deliverables, err := deliverablesOf(ctx, tx, tasks, branches)
		if err != nil {
			return err
		}

		out = &ProjectDetail{
			Project:      *p,
			Servers:      servers,
			Branches:     details,
			Deliverables: deliverables,
			Stats:        ComputeStats(tasks),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) Create(ctx context.Context, req CreateProjectRequest) (*ProjectSummary, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("project name is required")
	}
	branchNames := branchNamesOf(req.Branches)

	var out *ProjectSummary
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		p := &models.Project{
			Name:          name,
			Description:   strings.TrimSpace(req.Description),
			RepoURL:       strings.TrimSpace(req.RepoURL),
			DeploymentURL: strings.TrimSpace(req.DeploymentURL),
		}
		if err := tx.CreateProject(ctx, p); err != nil {
			return fmt.Errorf("create project: %w", err)
		}

		branches := make([]models.Branch, 0, len(branchNames))
		for _, bn := range branchNames {
			b := &models.Branch{ProjectID: p.ID, Name: bn}
			if err := tx.CreateBranch(ctx, b); err != nil {
				return fmt.Errorf("create branch %q: %w", bn, err)
			}
			branches = append(branches, *b)
		}

		servers := make([]models.Server, 0, len(req.Servers))
		for _, si := range req.Servers {
			s := &models.Server{ProjectID: p.ID, Name: strings.TrimSpace(si.Name), URL: strings.TrimSpace(si.URL)}
			if s.Name == "" || s.URL == "" {
				return apperr.Validation("server name and url are required")
			}
			if err := tx.CreateServer(ctx, s); err != nil {
				return fmt.Errorf("create server %q: %w", s.Name, err)
			}
			servers = append(servers, *s)
		}

		out = &ProjectSummary{Project: *p, Branches: branches, Servers: servers, Stats: newStats(0, 0)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) AddBranch(ctx context.Context, projectID int64, name string) (*models.Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("branch name is required")
	}

	var out *models.Branch
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := getProject(ctx, tx, projectID); err != nil {
			return err
		}
		existing, err := tx.ListBranches(ctx, []int64{projectID})
		if err != nil {
			return fmt.Errorf("list branches: %w", err)
		}
		for _, b := range existing {
			if strings.EqualFold(b.Name, name) {
				return apperr.Conflict("branch %q already exists in project %d", name, projectID)
			}
		}

		b := &models.Branch{ProjectID: projectID, Name: name}
		if err := tx.CreateBranch(ctx, b); err != nil {
			return fmt.Errorf("create branch: %w", err)
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a project and everything below it in one transaction.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	return e.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := getProject(ctx, tx, id); err != nil {
			return err
		}

		branches, err := tx.ListBranches(ctx, []int64{id})
		if err != nil {
			return fmt.Errorf("list branches: %w", err)
		}
		branchIDs := utils.Map(branches, func(b models.Branch) int64 { return b.ID })

		if len(branchIDs) > 0 {
			tasks, err := tx.ListTasks(ctx, store.TaskFilter{BranchIDs: branchIDs})
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			if _, err := mtask.DeleteTasksTx(ctx, tx, utils.Map(tasks, func(t models.Task) int64 { return t.ID })); err != nil {
				return err
			}
			if err := tx.DeleteOwnershipsByBranches(ctx, branchIDs); err != nil {
				return fmt.Errorf("delete ownerships: %w", err)
			}
			if err := tx.DeleteBranches(ctx, branchIDs); err != nil {
				return fmt.Errorf("delete branches: %w", err)
			}
		}

		if err := tx.DeleteServersByProject(ctx, id); err != nil {
			return fmt.Errorf("delete servers: %w", err)
		}
		if err := tx.DeleteProject(ctx, id); err != nil {
			return fmt.Errorf("delete project %d: %w", id, err)
		}
		return nil
	})
}

// --- helpers ---

func getProject(ctx context.Context, tx store.Tx, id int64) (*models.Project, error) {
	p, err := tx.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("project", id)
		}
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	return p, nil
}

func deliverablesOf(ctx context.Context, tx store.Tx, tasks []models.Task, branches []models.Branch) ([]Deliverable, error) {
	if len(tasks) == 0 {
		return []Deliverable{}, nil
	}
	subs, err := tx.ListSubmissions(ctx, store.SubmissionFilter{
		TaskIDs: utils.Map(tasks, func(t models.Task) int64 { return t.ID }),
		Limit:   deliverablesLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	taskByID := make(map[int64]models.Task, len(tasks))
	for _, t := range tasks {
		taskByID[t.ID] = t
	}
	branchName := make(map[int64]string, len(branches))
	for _, b := range branches {
		branchName[b.ID] = b.Name
	}
	userName := map[int64]string{}

	out := make([]Deliverable, 0, len(subs))
	for _, s := range subs {
		name, ok := userName[s.UserID]
		if !ok {
			u, err := tx.GetUserByID(ctx, s.UserID)
			switch {
			case err == nil:
				name = u.Name
			case !errors.Is(err, store.ErrNotFound):
				return nil, fmt.Errorf("get user %d: %w", s.UserID, err)
			}
			userName[s.UserID] = name
		}
		t := taskByID[s.TaskID]
		out = append(out, Deliverable{
			Submission: s,
			TaskTitle:  t.Title,
			BranchName: branchName[t.BranchID],
			UserName:   name,
		})
	}
	return out, nil
}

// branchNamesOf trims names, drops blanks and keeps the first spelling of
// names that differ only in case.
func branchNamesOf(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range utils.Map(names, strings.TrimSpace) {
		if name == "" {
			continue
		}
		dup := utils.Filter(out, func(seen string) bool { return strings.EqualFold(seen, name) })
		if len(dup) == 0 {
			out = append(out, name)
		}
	}
	return out
}

func nonNil[E any](s []E) []E {
	if s == nil {
		return []E{}
	}
	return s
}
