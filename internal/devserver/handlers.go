package devserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sukryu/gorm-oso/pkg/binding"
	"github.com/sukryu/gorm-oso/pkg/client"
	"github.com/sukryu/gorm-oso/pkg/errors"
)

type listLocalRequest struct {
	ActorType    string `json:"actor_type" binding:"required"`
	ActorID      string `json:"actor_id" binding:"required"`
	Action       string `json:"action" binding:"required"`
	ResourceType string `json:"resource_type" binding:"required"`
	Column       string `json:"column" binding:"required"`
	DataBindings string `json:"data_bindings"`
}

type listLocalResponse struct {
	SQL string `json:"sql"`
}

type factRequest struct {
	Fact client.Fact `json:"fact"`
}

type Handler struct {
	eval  *Evaluator
	facts *FactStore
}

func NewHandler(eval *Evaluator, facts *FactStore) *Handler {
	return &Handler{eval: eval, facts: facts}
}

func (h *Handler) ListLocal(c *gin.Context) {
	var req listLocalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.ErrInvalidInput.WithReason(err.Error()))
		return
	}

	cfg, err := binding.LoadConfig([]byte(req.DataBindings))
	if err != nil {
		c.Error(errors.ErrInvalidInput.WithReason(err.Error()))
		return
	}

	actor := client.Value{Type: req.ActorType, ID: req.ActorID}
	sql, err := h.eval.ListLocal(c.Request.Context(), cfg, actor, req.Action, req.ResourceType, req.Column)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, listLocalResponse{SQL: sql})
}

func (h *Handler) InsertFact(c *gin.Context) {
	var req factRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.ErrInvalidInput.WithReason(err.Error()))
		return
	}

	if err := h.facts.Insert(c.Request.Context(), req.Fact); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, req)
}

func (h *Handler) DeleteFact(c *gin.Context) {
	var req factRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.ErrInvalidInput.WithReason(err.Error()))
		return
	}

	if err := h.facts.Delete(c.Request.Context(), req.Fact); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ListFacts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"facts": h.facts.List(c.Request.Context(), c.Query("name"))})
}
