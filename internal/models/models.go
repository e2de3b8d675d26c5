package models

import "time"

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

type TaskStatus string

const (
	TaskAvailable TaskStatus = "AVAILABLE"
	TaskTaken     TaskStatus = "TAKEN"
	TaskCompleted TaskStatus = "COMPLETED"
	// TaskExpired is never persisted by the sweep, expired tasks go straight back to AVAILABLE.
	TaskExpired TaskStatus = "EXPIRED"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskAvailable, TaskTaken, TaskCompleted, TaskExpired:
		return true
	}
	return false
}

type OutputType string

const (
	OutputURL     OutputType = "URL"
	OutputRepo    OutputType = "REPO"
	OutputService OutputType = "SERVICE"
)

func (o OutputType) Valid() bool {
	return o == OutputURL || o == OutputRepo || o == OutputService
}

type OwnershipRole string

const (
	OwnerRole       OwnershipRole = "OWNER"
	CoOwnerRole     OwnershipRole = "CO_OWNER"
	ContributorRole OwnershipRole = "CONTRIBUTOR"
)

type OwnershipStatus string

const (
	OwnershipActive OwnershipStatus = "ACTIVE"
	OwnershipPaused OwnershipStatus = "PAUSED"
)

type User struct {
	ID                 int64      `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	Role               Role       `json:"role"`
	Password           string     `json:"-"`
	MustChangePassword bool       `json:"must_change_password"`
	LastSeenAt         *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

type Project struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	RepoURL       string    `json:"repo_url"`
	DeploymentURL string    `json:"deployment_url"`
	CreatedAt     time.Time `json:"created_at"`
}

// Server is a deployment endpoint attached to a project.
type Server struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"projectid"`
	Name      string `json:"name"`
	URL       string `json:"url"`
}

type Branch struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"projectid"`
	Name      string `json:"name"`
}

type Ownership struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"userid"`
	BranchID  int64           `json:"branchid"`
	Role      OwnershipRole   `json:"role"`
	Status    OwnershipStatus `json:"status"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Task struct {
	ID           int64      `json:"id"`
	BranchID     int64      `json:"branchid"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Points       int        `json:"points"`
	Status       TaskStatus `json:"status"`
	AssignedToID *int64     `json:"assignedto,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	OutputType   OutputType `json:"output_type"`
	CreatedAt    time.Time  `json:"created_at"`

	Dependencies []int64 `json:"dependencies,omitempty"`
}

// AssignedTo reports whether the task is currently held by userID.
func (t *Task) AssignedTo(userID int64) bool {
	return t.AssignedToID != nil && *t.AssignedToID == userID
}

type Dependency struct {
	TaskID      int64 `json:"taskid"`
	DependsOnID int64 `json:"depends_on"`
}

type Submission struct {
	ID         int64      `json:"id"`
	TaskID     int64      `json:"taskid"`
	UserID     int64      `json:"userid"`
	OutputType OutputType `json:"output_type"`
	OutputURL  string     `json:"output_url"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
