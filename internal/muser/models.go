package muser

import (
	"time"

	"kyri56xcaesar/teamcore/internal/models"
)

const (
	minPasswordLen  = 6
	tempPasswordLen = 12
	onlineWindow    = 5 * time.Minute
	bcryptPrefix    = "$2"
)

type LoginRequest struct {
	Email    string `json:"email" form:"email" binding:"required,email,max=254"`
	Password string `json:"password" form:"password" binding:"required,max=128"`
}

type ChangePasswordRequest struct {
	Password string `json:"password" form:"password" binding:"required,min=6,max=128"`
}

type InviteRequest struct {
	Email string `json:"email" form:"email" binding:"required,email,max=254"`
}

type Session struct {
	Token string      `json:"token,omitempty"`
	User  models.User `json:"user"`
}

type Invitation struct {
	User              models.User `json:"user"`
	TemporaryPassword string      `json:"temporaryPassword"`
	Provisioned       bool        `json:"provisioned"`
}

type LeaderboardEntry struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Email      string      `json:"email"`
	Role       models.Role `json:"role"`
	TotalScore int         `json:"totalScore"`
	IsOnline   bool        `json:"isOnline"`
	LastSeenAt *time.Time  `json:"lastSeenAt,omitempty"`
}
