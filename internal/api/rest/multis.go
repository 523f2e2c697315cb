package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/multi/edit
func (s *Server) getDraft(c *gin.Context) {
	draft, err := s.lm.Sequencer().Draft()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

// POST /api/v1/multi/edit
func (s *Server) beginEdit(c *gin.Context) {
	var req struct {
		MultiID string `json:"multi_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "MULTI_400", err)
		return
	}

	draft, err := s.lm.Sequencer().BeginEdit(req.MultiID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

// POST /api/v1/multi/edit/new
func (s *Server) beginCreate(c *gin.Context) {
	var m types.MultiComponent
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c, "MULTI_400", err)
		return
	}

	draft, err := s.lm.Sequencer().BeginCreate(&m)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, draft)
}

// POST /api/v1/multi/edit/members
func (s *Server) addMember(c *gin.Context) {
	var step types.MultiStep
	if err := c.ShouldBindJSON(&step); err != nil {
		badRequest(c, "MULTI_400", err)
		return
	}
	if err := s.lm.Sequencer().AddMember(step); err != nil {
		respondError(c, err)
		return
	}
	s.getDraft(c)
}

// DELETE /api/v1/multi/edit/members/:id
func (s *Server) removeMember(c *gin.Context) {
	if err := s.lm.Sequencer().RemoveMember(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	s.getDraft(c)
}

// PUT /api/v1/multi/edit/steps
func (s *Server) setSteps(c *gin.Context) {
	var req struct {
		Steps []types.MultiStep `json:"steps"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "MULTI_400", err)
		return
	}
	if err := s.lm.Sequencer().SetSteps(req.Steps); err != nil {
		respondError(c, err)
		return
	}
	s.getDraft(c)
}

// PUT /api/v1/multi/edit/steps/:index
func (s *Server) updateStep(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "MULTI_400", err)
		return
	}
	var step types.MultiStep
	if err := c.ShouldBindJSON(&step); err != nil {
		badRequest(c, "MULTI_400", err)
		return
	}
	if err := s.lm.Sequencer().UpdateStep(index, step); err != nil {
		respondError(c, err)
		return
	}
	s.getDraft(c)
}

// POST /api/v1/multi/edit/steps/move
func (s *Server) moveStep(c *gin.Context) {
	var req struct {
		From *int `json:"from" binding:"required"`
		To   *int `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "MULTI_400", err)
		return
	}
	if err := s.lm.Sequencer().MoveStep(*req.From, *req.To); err != nil {
		respondError(c, err)
		return
	}
	s.getDraft(c)
}

// POST /api/v1/multi/edit/commit
func (s *Server) commitEdit(c *gin.Context) {
	draft, err := s.lm.Sequencer().Draft()
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.lm.Sequencer().Commit(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}

	comp, ok := s.lm.Table().GetComponentByID(draft.MultiID)
	if !ok {
		respondError(c, types.ErrComponentNotFound)
		return
	}
	s.logger.Info("Multi edit committed", zap.String("multi_id", draft.MultiID))
	c.JSON(http.StatusOK, s.describe(comp))
}

// POST /api/v1/multi/edit/rollback
func (s *Server) rollbackEdit(c *gin.Context) {
	if err := s.lm.Sequencer().Rollback(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "edit rolled back"})
}

// GET /api/v1/runs
func (s *Server) listRuns(c *gin.Context) {
	runs := s.lm.Sequencer().Runs()
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// POST /api/v1/runs
func (s *Server) startRun(c *gin.Context) {
	var req struct {
		MultiID string `json:"multi_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "RUN_400", err)
		return
	}

	runID, err := s.lm.Sequencer().Run(c.Request.Context(), req.MultiID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "multi_id": req.MultiID})
}

// GET /api/v1/runs/:id
func (s *Server) getRun(c *gin.Context) {
	info, err := s.lm.Sequencer().Status(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GET /api/v1/runs/:id/steps/:index/in-flight
func (s *Server) stepInFlight(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "RUN_400", err)
		return
	}
	inFlight, err := s.lm.Sequencer().InFlight(c.Param("id"), index, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "index": index, "in_flight": inFlight})
}

// POST /api/v1/runs/:id/cancel
func (s *Server) cancelRun(c *gin.Context) {
	if err := s.lm.Sequencer().Cancel(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "run cancelled"})
}
