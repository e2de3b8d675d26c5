package mtask

import (
	"time"

	"kyri56xcaesar/teamcore/internal/models"
)

type CreateTaskRequest struct {
	BranchID    int64      `json:"branchid" form:"branchid" binding:"required,gt=0"`
	Title       string     `json:"title" form:"title" binding:"required,min=2,max=200"`
	Description string     `json:"description" form:"description" binding:"max=4000"`
	Points      *int       `json:"points" form:"points" binding:"omitempty,min=0,max=1000"`
	DueAt       *time.Time `json:"due_at" form:"due_at"`
	OutputType  string     `json:"output_type" form:"output_type" binding:"omitempty,oneof=URL REPO SERVICE"`
	DependsOn   []int64    `json:"dependencies" form:"dependencies" binding:"omitempty,dive,gt=0"`
}

type UpdateTaskRequest struct {
	Title       *string    `json:"title" form:"title" binding:"omitempty,min=2,max=200"`
	Description *string    `json:"description" form:"description" binding:"omitempty,max=4000"`
	Points      *int       `json:"points" form:"points" binding:"omitempty,min=0,max=1000"`
	DueAt       *time.Time `json:"due_at" form:"due_at"`
	ClearDueAt  bool       `json:"clear_due_at" form:"clear_due_at"`
	Status      *string    `json:"status" form:"status" binding:"omitempty,oneof=AVAILABLE TAKEN COMPLETED EXPIRED"`
	OutputType  *string    `json:"output_type" form:"output_type" binding:"omitempty,oneof=URL REPO SERVICE"`
}

type TakeRequest struct {
	TaskID int64 `json:"taskid" form:"taskid" binding:"required,gt=0"`
}

type SubmitRequest struct {
	TaskID     int64  `json:"taskid" form:"taskid" binding:"required,gt=0"`
	OutputType string `json:"output_type" form:"output_type" binding:"omitempty,oneof=URL REPO SERVICE"`
	OutputURL  string `json:"output_url" form:"output_url" binding:"required,max=2048"`
	Note       string `json:"note" form:"note" binding:"max=2000"`
}

type SubmitResult struct {
	Submission models.Submission `json:"submission"`
	Task       models.Task       `json:"task"`
}

type ListFilter struct {
	Status     models.TaskStatus
	ProjectID  int64
	BranchID   int64
	AssignedTo int64
}

type SweepResult struct {
	ExpiredCount int64     `json:"expiredCount"`
	CheckedAt    time.Time `json:"checkedAt"`
}
