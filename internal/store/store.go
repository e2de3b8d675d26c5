// Package store is the persistence layer. Every engine operation runs inside
// one Store.WithTx call so that multi-step mutations commit or roll back as a
// unit.
package store

import (
	"context"
	"errors"
	"time"

	"kyri56xcaesar/teamcore/internal/models"
)

// ErrNotFound is returned by single-row lookups and updates that match nothing.
var ErrNotFound = errors.New("no rows")

// ErrDuplicate is returned when an insert violates a unique key.
var ErrDuplicate = errors.New("duplicate key")

type Store interface {
	// WithTx runs fn in a transaction. A non-nil error from fn rolls it back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close()
}

type TaskFilter struct {
	IDs        []int64
	Status     models.TaskStatus
	BranchIDs  []int64
	ProjectID  int64
	AssignedTo int64
}

// TaskPatch carries the optional fields of an administrative task update.
type TaskPatch struct {
	Title         *string
	Description   *string
	Points        *int
	DueAt         *time.Time
	ClearDueAt    bool
	Status        *models.TaskStatus
	OutputType    *models.OutputType
	ClearAssignee bool
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Points == nil && p.DueAt == nil &&
		!p.ClearDueAt && p.Status == nil && p.OutputType == nil && !p.ClearAssignee
}

// TaskTransition is a conditional status change. It applies only while the row
// still has status From (and, when FromAssignee is set, that assignee).
type TaskTransition struct {
	ID           int64
	From         models.TaskStatus
	FromAssignee *int64
	To           models.TaskStatus
	// Assignee is written unless KeepAssignee is set; nil clears it.
	Assignee     *int64
	KeepAssignee bool
}

type OwnershipFilter struct {
	UserID    int64
	BranchIDs []int64
	Status    models.OwnershipStatus
}

type SubmissionFilter struct {
	TaskIDs []int64
	Limit   int
}

type Tx interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUserPassword(ctx context.Context, id int64, hash string, mustChange bool) error
	TouchUser(ctx context.Context, id int64, at time.Time) error

	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	DeleteProject(ctx context.Context, id int64) error

	CreateServer(ctx context.Context, s *models.Server) error
	ListServers(ctx context.Context, projectID int64) ([]models.Server, error)
	DeleteServersByProject(ctx context.Context, projectID int64) error

	CreateBranch(ctx context.Context, b *models.Branch) error
	GetBranch(ctx context.Context, id int64) (*models.Branch, error)
	ListBranches(ctx context.Context, projectIDs []int64) ([]models.Branch, error)
	DeleteBranches(ctx context.Context, ids []int64) error

	// GetOwnership locks the (user, branch) row when forUpdate is set.
	GetOwnership(ctx context.Context, userID, branchID int64, forUpdate bool) (*models.Ownership, error)
	// InsertOwnership reports false, without error, when the pair already exists.
	InsertOwnership(ctx context.Context, o *models.Ownership) (bool, error)
	UpdateOwnership(ctx context.Context, id int64, role models.OwnershipRole, status models.OwnershipStatus) (*models.Ownership, error)
	ListOwnerships(ctx context.Context, f OwnershipFilter) ([]models.Ownership, error)
	DeleteOwnershipsByBranches(ctx context.Context, branchIDs []int64) error

	CreateTask(ctx context.Context, t *models.Task) error
	// GetTask locks the row when forUpdate is set.
	GetTask(ctx context.Context, id int64, forUpdate bool) (*models.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error)
	UpdateTask(ctx context.Context, id int64, p TaskPatch) (*models.Task, error)
	// TransitionTask returns the number of rows moved.
	TransitionTask(ctx context.Context, t TaskTransition) (int64, error)
	// ExpireTasks moves every TAKEN task due before now back to AVAILABLE.
	ExpireTasks(ctx context.Context, now time.Time) (int64, error)
	DeleteTasks(ctx context.Context, ids []int64) (int64, error)

	CreateDependencies(ctx context.Context, deps []models.Dependency) error
	ListDependencies(ctx context.Context, taskIDs []int64) ([]models.Dependency, error)
	// DeleteDependencies removes edges touching any of taskIDs on either side.
	DeleteDependencies(ctx context.Context, taskIDs []int64) error

	CreateSubmission(ctx context.Context, s *models.Submission) error
	ListSubmissions(ctx context.Context, f SubmissionFilter) ([]models.Submission, error)
	DeleteSubmissions(ctx context.Context, taskIDs []int64) error
}
