package muser

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kyri56xcaesar/teamcore/internal/authmw"
	"kyri56xcaesar/teamcore/internal/utils"
)

type Handler struct {
	service    *Service
	sessionTTL time.Duration
}

func NewHandler(s *Service, sessionTTL time.Duration) *Handler {
	return &Handler{service: s, sessionTTL: sessionTTL}
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	sess, err := h.service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	if sess.Token != "" {
		authmw.SetSessionCookie(c, sess.Token, h.sessionTTL)
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) ChangePassword(c *gin.Context) {
	id, ok := authmw.MustIdentity(c)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 6 characters"})
		return
	}

	sess, err := h.service.ChangePassword(c.Request.Context(), id.UserID, req.Password)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	if sess.Token != "" {
		authmw.SetSessionCookie(c, sess.Token, h.sessionTTL)
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) Invite(c *gin.Context) {
	var req InviteRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid email required"})
		return
	}

	inv, err := h.service.Invite(c.Request.Context(), req.Email)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, inv)
}

func (h *Handler) Leaderboard(c *gin.Context) {
	entries, err := h.service.Leaderboard(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}
