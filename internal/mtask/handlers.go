package mtask

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kyri56xcaesar/teamcore/internal/authmw"
	"kyri56xcaesar/teamcore/internal/idempotency"
	"kyri56xcaesar/teamcore/internal/models"
	"kyri56xcaesar/teamcore/internal/utils"
)

const IdempotencyHeader = "Idempotency-Key"

type Handler struct {
	engine *Engine
	idem   idempotency.Store
}

func NewHandler(e *Engine, idem idempotency.Store) *Handler {
	return &Handler{engine: e, idem: idem}
}

func (h *Handler) List(c *gin.Context) {
	projectID, ok := utils.ParseIDQuery(c, "projectId")
	if !ok {
		return
	}
	branchID, ok := utils.ParseIDQuery(c, "branchId")
	if !ok {
		return
	}

	tasks, err := h.engine.List(c.Request.Context(), ListFilter{
		Status:    models.TaskStatus(strings.ToUpper(c.Query("status"))),
		ProjectID: projectID,
		BranchID:  branchID,
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tasks)
}

func (h *Handler) Get(c *gin.Context) {
	taskID, ok := utils.ParseIDParam(c, "id")
	if !ok {
		return
	}

	task, err := h.engine.Get(c.Request.Context(), taskID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

func (h *Handler) MyTasks(c *gin.Context) {
	id, ok := authmw.MustIdentity(c)
	if !ok {
		return
	}

	tasks, err := h.engine.MyTasks(c.Request.Context(), id.UserID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tasks)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	task, err := h.engine.Create(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

func (h *Handler) Update(c *gin.Context) {
	taskID, ok := utils.ParseIDParam(c, "id")
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	task, err := h.engine.Update(c.Request.Context(), taskID, req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

func (h *Handler) Delete(c *gin.Context) {
	taskID, ok := utils.ParseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.engine.Delete(c.Request.Context(), taskID); err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Take claims a task for the caller. A request repeating an Idempotency-Key
// for the same task replays the stored response of the first successful
// claim; the key is scoped to the task so reusing it elsewhere claims anew.
func (h *Handler) Take(c *gin.Context) {
	id, ok := authmw.MustIdentity(c)
	if !ok {
		return
	}

	var req TakeRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "taskid required"})
		return
	}

	ctx := c.Request.Context()
	key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	cacheKey := ""
	if key != "" && h.idem != nil {
		cacheKey = fmt.Sprintf("take:%d:%d:%s", id.UserID, req.TaskID, key)
		if body, hit, err := h.idem.Get(ctx, cacheKey); err != nil {
			log.Printf("idempotency lookup failed for %s: %v", cacheKey, err)
		} else if hit {
			c.Header("Idempotent-Replayed", "true")
			c.Data(http.StatusOK, "application/json; charset=utf-8", body)
			return
		}
	}

	task, err := h.engine.Take(ctx, req.TaskID, id.UserID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	body, err := json.Marshal(task)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if cacheKey != "" {
		if err := h.idem.Put(ctx, cacheKey, body, idempotency.DefaultTTL); err != nil {
			log.Printf("failed to store idempotent response for %s: %v", cacheKey, err)
		}
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *Handler) Submit(c *gin.Context) {
	id, ok := authmw.MustIdentity(c)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	res, err := h.engine.Submit(c.Request.Context(), id.UserID, req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// CheckExpired is the externally scheduled sweep.
func (h *Handler) CheckExpired(c *gin.Context) {
	res, err := h.engine.SweepNow(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"expiredCount": res.ExpiredCount,
		"checkedAt":    res.CheckedAt,
	})
}
