package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"kyri56xcaesar/teamcore/internal/models"
)

// Memory is an in-process Store. Transactions are serialized by a single mutex
// and run against a copy of the data that replaces the original only on
// success, so a failed transaction leaves nothing behind.
type Memory struct {
	mu   sync.Mutex
	data *memData
	now  func() time.Time
}

type memData struct {
	seq         map[string]int64
	users       map[int64]models.User
	projects    map[int64]models.Project
	servers     map[int64]models.Server
	branches    map[int64]models.Branch
	ownerships  map[int64]models.Ownership
	tasks       map[int64]models.Task
	deps        []models.Dependency
	submissions map[int64]models.Submission
}

func NewMemory() *Memory {
	return &Memory{
		data: &memData{
			seq:         map[string]int64{},
			users:       map[int64]models.User{},
			projects:    map[int64]models.Project{},
			servers:     map[int64]models.Server{},
			branches:    map[int64]models.Branch{},
			ownerships:  map[int64]models.Ownership{},
			tasks:       map[int64]models.Task{},
			submissions: map[int64]models.Submission{},
		},
		now: time.Now,
	}
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(&memTx{d: work, now: m.now}); err != nil {
		return err
	}
	m.data = work
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() {}

func (d *memData) clone() *memData {
	return &memData{
		seq:         cloneMap(d.seq),
		users:       cloneMap(d.users),
		projects:    cloneMap(d.projects),
		servers:     cloneMap(d.servers),
		branches:    cloneMap(d.branches),
		ownerships:  cloneMap(d.ownerships),
		tasks:       cloneMap(d.tasks),
		deps:        slices.Clone(d.deps),
		submissions: cloneMap(d.submissions),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedValues[V any](in map[int64]V) []V {
	keys := make([]int64, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, in[k])
	}
	return out
}

type memTx struct {
	d   *memData
	now func() time.Time
}

func (t *memTx) nextID(table string) int64 {
	t.d.seq[table]++
	return t.d.seq[table]
}

// users

func (t *memTx) CreateUser(_ context.Context, u *models.User) error {
	for _, existing := range t.d.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicate
		}
	}
	u.ID = t.nextID("users")
	if u.CreatedAt.IsZero() {
		u.CreatedAt = t.now()
	}
	t.d.users[u.ID] = *u
	return nil
}

func (t *memTx) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := t.d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (t *memTx) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range t.d.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) ListUsers(_ context.Context) ([]models.User, error) {
	return sortedValues(t.d.users), nil
}

func (t *memTx) UpdateUserPassword(_ context.Context, id int64, hash string, mustChange bool) error {
	u, ok := t.d.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Password = hash
	u.MustChangePassword = mustChange
	t.d.users[id] = u
	return nil
}

func (t *memTx) TouchUser(_ context.Context, id int64, at time.Time) error {
	u, ok := t.d.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastSeenAt = &at
	t.d.users[id] = u
	return nil
}

// projects & servers

func (t *memTx) CreateProject(_ context.Context, p *models.Project) error {
	p.ID = t.nextID("projects")
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.now()
	}
	t.d.projects[p.ID] = *p
	return nil
}

func (t *memTx) GetProject(_ context.Context, id int64) (*models.Project, error) {
	p, ok := t.d.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTx) ListProjects(_ context.Context) ([]models.Project, error) {
	return sortedValues(t.d.projects), nil
}

func (t *memTx) DeleteProject(_ context.Context, id int64) error {
	if _, ok := t.d.projects[id]; !ok {
		return ErrNotFound
	}
	delete(t.d.projects, id)
	return nil
}

func (t *memTx) CreateServer(_ context.Context, s *models.Server) error {
	s.ID = t.nextID("servers")
	t.d.servers[s.ID] = *s
	return nil
}

func (t *memTx) ListServers(_ context.Context, projectID int64) ([]models.Server, error) {
	out := []models.Server{}
	for _, s := range sortedValues(t.d.servers) {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *memTx) DeleteServersByProject(_ context.Context, projectID int64) error {
	for id, s := range t.d.servers {
		if s.ProjectID == projectID {
			delete(t.d.servers, id)
		}
	}
	return nil
}

// branches

func (t *memTx) CreateBranch(_ context.Context, b *models.Branch) error {
	b.ID = t.nextID("branches")
	t.d.branches[b.ID] = *b
	return nil
}

func (t *memTx) GetBranch(_ context.Context, id int64) (*models.Branch, error) {
	b, ok := t.d.branches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (t *memTx) ListBranches(_ context.Context, projectIDs []int64) ([]models.Branch, error) {
	out := []models.Branch{}
	for _, b := range sortedValues(t.d.branches) {
		if projectIDs == nil || slices.Contains(projectIDs, b.ProjectID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memTx) DeleteBranches(_ context.Context, ids []int64) error {
	for _, id := range ids {
		delete(t.d.branches, id)
	}
	return nil
}

// ownerships

func (t *memTx) GetOwnership(_ context.Context, userID, branchID int64, _ bool) (*models.Ownership, error) {
	for _, o := range t.d.ownerships {
		if o.UserID == userID && o.BranchID == branchID {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) InsertOwnership(ctx context.Context, o *models.Ownership) (bool, error) {
	if _, err := t.GetOwnership(ctx, o.UserID, o.BranchID, false); err == nil {
		return false, nil
	}
	o.ID = t.nextID("ownerships")
	if o.CreatedAt.IsZero() {
		o.CreatedAt = t.now()
	}
	t.d.ownerships[o.ID] = *o
	return true, nil
}

func (t *memTx) UpdateOwnership(_ context.Context, id int64, role models.OwnershipRole, status models.OwnershipStatus) (*models.Ownership, error) {
	o, ok := t.d.ownerships[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.Role = role
	o.Status = status
	t.d.ownerships[id] = o
	return &o, nil
}

func (t *memTx) ListOwnerships(_ context.Context, f OwnershipFilter) ([]models.Ownership, error) {
	out := []models.Ownership{}
	for _, o := range sortedValues(t.d.ownerships) {
		if f.UserID != 0 && o.UserID != f.UserID {
			continue
		}
		if f.BranchIDs != nil && !slices.Contains(f.BranchIDs, o.BranchID) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (t *memTx) DeleteOwnershipsByBranches(_ context.Context, branchIDs []int64) error {
	for id, o := range t.d.ownerships {
		if slices.Contains(branchIDs, o.BranchID) {
			delete(t.d.ownerships, id)
		}
	}
	return nil
}

// tasks

func (t *memTx) CreateTask(_ context.Context, task *models.Task) error {
	task.ID = t.nextID("tasks")
	if task.CreatedAt.IsZero() {
		task.CreatedAt = t.now()
	}
	stored := *task
	stored.Dependencies = nil
	t.d.tasks[task.ID] = stored
	return nil
}

func (t *memTx) GetTask(_ context.Context, id int64, _ bool) (*models.Task, error) {
	task, ok := t.d.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &task, nil
}

func (t *memTx) ListTasks(_ context.Context, f TaskFilter) ([]models.Task, error) {
	out := []models.Task{}
	for _, task := range t.d.tasks {
		if f.IDs != nil && !slices.Contains(f.IDs, task.ID) {
			continue
		}
		if f.Status != "" && task.Status != f.Status {
			continue
		}
		if f.BranchIDs != nil && !slices.Contains(f.BranchIDs, task.BranchID) {
			continue
		}
		if f.ProjectID != 0 {
			b, ok := t.d.branches[task.BranchID]
			if !ok || b.ProjectID != f.ProjectID {
				continue
			}
		}
		if f.AssignedTo != 0 && !task.AssignedTo(f.AssignedTo) {
			continue
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memTx) UpdateTask(_ context.Context, id int64, p TaskPatch) (*models.Task, error) {
	task, ok := t.d.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Title != nil {
		task.Title = *p.Title
	}
	if p.Description != nil {
		task.Description = *p.Description
	}
	if p.Points != nil {
		task.Points = *p.Points
	}
	if p.DueAt != nil {
		due := *p.DueAt
		task.DueAt = &due
	}
	if p.ClearDueAt {
		task.DueAt = nil
	}
	if p.Status != nil {
		task.Status = *p.Status
	}
	if p.OutputType != nil {
		task.OutputType = *p.OutputType
	}
	if p.ClearAssignee {
		task.AssignedToID = nil
	}
	t.d.tasks[id] = task
	return &task, nil
}

func (t *memTx) TransitionTask(_ context.Context, tr TaskTransition) (int64, error) {
	task, ok := t.d.tasks[tr.ID]
	if !ok || task.Status != tr.From {
		return 0, nil
	}
	if tr.FromAssignee != nil && !task.AssignedTo(*tr.FromAssignee) {
		return 0, nil
	}
	task.Status = tr.To
	if !tr.KeepAssignee {
		task.AssignedToID = nil
		if tr.Assignee != nil {
			uid := *tr.Assignee
			task.AssignedToID = &uid
		}
	}
	t.d.tasks[tr.ID] = task
	return 1, nil
}

func (t *memTx) ExpireTasks(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, task := range t.d.tasks {
		if task.Status != models.TaskTaken || task.DueAt == nil || !task.DueAt.Before(now) {
			continue
		}
		task.Status = models.TaskAvailable
		task.AssignedToID = nil
		t.d.tasks[id] = task
		n++
	}
	return n, nil
}

func (t *memTx) DeleteTasks(_ context.Context, ids []int64) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := t.d.tasks[id]; ok {
			delete(t.d.tasks, id)
			n++
		}
	}
	return n, nil
}

// dependencies

func (t *memTx) CreateDependencies(_ context.Context, deps []models.Dependency) error {
	for _, dep := range deps {
		if !slices.Contains(t.d.deps, dep) {
			t.d.deps = append(t.d.deps, dep)
		}
	}
	return nil
}

func (t *memTx) ListDependencies(_ context.Context, taskIDs []int64) ([]models.Dependency, error) {
	out := []models.Dependency{}
	for _, dep := range t.d.deps {
		if slices.Contains(taskIDs, dep.TaskID) {
			out = append(out, dep)
		}
	}
	return out, nil
}

func (t *memTx) DeleteDependencies(_ context.Context, taskIDs []int64) error {
	t.d.deps = slices.DeleteFunc(t.d.deps, func(dep models.Dependency) bool {
		return slices.Contains(taskIDs, dep.TaskID) || slices.Contains(taskIDs, dep.DependsOnID)
	})
	return nil
}

// submissions

func (t *memTx) CreateSubmission(_ context.Context, s *models.Submission) error {
	s.ID = t.nextID("submissions")
	if s.CreatedAt.IsZero() {
		s.CreatedAt = t.now()
	}
	t.d.submissions[s.ID] = *s
	return nil
}

func (t *memTx) ListSubmissions(_ context.Context, f SubmissionFilter) ([]models.Submission, error) {
	out := []models.Submission{}
	all := sortedValues(t.d.submissions)
	for i := len(all) - 1; i >= 0; i-- {
		s := all[i]
		if f.TaskIDs != nil && !slices.Contains(f.TaskIDs, s.TaskID) {
			continue
		}
		out = append(out, s)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) DeleteSubmissions(_ context.Context, taskIDs []int64) error {
	for id, s := range t.d.submissions {
		if slices.Contains(taskIDs, s.TaskID) {
			delete(t.d.submissions, id)
		}
	}
	return nil
}
