package mbranch

import (
	"time"

	"kyri56xcaesar/teamcore/internal/models"
)

// Area is one branch the caller actively works on.
type Area struct {
	Ownership models.Ownership `json:"ownership"`
	Branch    models.Branch    `json:"branch"`
	Project   models.Project   `json:"project"`
}

type Owner struct {
	UserID int64                `json:"userid"`
	Name   string               `json:"name"`
	Email  string               `json:"email"`
	Role   models.OwnershipRole `json:"role"`
	Since  time.Time            `json:"since"`
}
