package mproject

import (
	"kyri56xcaesar/teamcore/internal/mbranch"
	"kyri56xcaesar/teamcore/internal/models"
)

const deliverablesLimit = 20

type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Progress  int `json:"progress"`
}

type ProjectSummary struct {
	models.Project
	Branches []models.Branch `json:"branches"`
	Servers  []models.Server `json:"servers"`
	Stats    Stats           `json:"stats"`
}

type BranchDetail struct {
	models.Branch
	Stats  Stats           `json:"stats"`
	Owners []mbranch.Owner `json:"owners"`
}

// Deliverable is a submission shown on the project page.
type Deliverable struct {
	models.Submission
	TaskTitle  string `json:"task_title"`
	BranchName string `json:"branch_name"`
	UserName   string `json:"user_name"`
}

type ProjectDetail struct {
	models.Project
	Servers      []models.Server `json:"servers"`
	Branches     []BranchDetail  `json:"branches"`
	Deliverables []Deliverable   `json:"deliverables"`
	Stats        Stats           `json:"stats"`
}

type ServerInput struct {
	Name string `json:"name" binding:"required,max=120"`
	URL  string `json:"url" binding:"required,url,max=2048"`
}

type CreateProjectRequest struct {
	Name          string        `json:"name" form:"name" binding:"required,min=2,max=120"`
	Description   string        `json:"description" form:"description" binding:"max=4000"`
	RepoURL       string        `json:"repo_url" form:"repo_url" binding:"omitempty,url,max=2048"`
	DeploymentURL string        `json:"deployment_url" form:"deployment_url" binding:"omitempty,url,max=2048"`
	Branches      []string      `json:"branches" form:"branches" binding:"omitempty,dive,required,max=120"`
	Servers       []ServerInput `json:"servers" binding:"omitempty,dive"`
}

type AddBranchRequest struct {
	Name string `json:"name" form:"name" binding:"required,min=1,max=120"`
}
