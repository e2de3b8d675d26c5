package mbranch

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kyri56xcaesar/teamcore/internal/authmw"
	"kyri56xcaesar/teamcore/internal/utils"
)

type Handler struct {
	engine *Engine
}

func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

func (h *Handler) Own(c *gin.Context) {
	id, ok := authmw.MustIdentity(c)
	if !ok {
		return
	}
	branchID, ok := utils.ParseIDParam(c, "branchId")
	if !ok {
		return
	}

	o, err := h.engine.Own(c.Request.Context(), id.UserID, branchID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, o)
}

func (h *Handler) Leave(c *gin.Context) {
	id, ok := authmw.MustIdentity(c)
	if !ok {
		return
	}
	branchID, ok := utils.ParseIDParam(c, "branchId")
	if !ok {
		return
	}

	o, err := h.engine.Leave(c.Request.Context(), id.UserID, branchID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "ownership": o})
}

func (h *Handler) MyAreas(c *gin.Context) {
	id, ok := authmw.MustIdentity(c)
	if !ok {
		return
	}

	areas, err := h.engine.MyAreas(c.Request.Context(), id.UserID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, areas)
}

func (h *Handler) Owners(c *gin.Context) {
	branchID, ok := utils.ParseIDParam(c, "branchId")
	if !ok {
		return
	}

	owners, err := h.engine.Owners(c.Request.Context(), branchID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, owners)
}
