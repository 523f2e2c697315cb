package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenPanelCore/internal/bindings"
	"github.com/KevinKickass/OpenPanelCore/internal/geometry"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type componentResponse struct {
	Component types.Component `json:"component"`
	Overlaps  []string        `json:"overlaps"`
	Bound     bool            `json:"bound"`
}

func (s *Server) describe(c types.Component) componentResponse {
	id := c.Common().ID
	overlaps := s.lm.Table().Overlaps(id)
	if overlaps == nil {
		overlaps = []string{}
	}
	return componentResponse{
		Component: c,
		Overlaps:  overlaps,
		Bound:     s.lm.Actions().Has(id),
	}
}

func rectOf(c types.Component) geometry.Rect {
	b := c.Common()
	return geometry.Rect{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
}

// GET /api/v1/components
func (s *Server) listComponents(c *gin.Context) {
	all := s.lm.Table().List()
	kind := c.Query("type")

	response := make([]types.Component, 0, len(all))
	for _, comp := range all {
		if kind != "" && string(comp.Kind()) != kind {
			continue
		}
		response = append(response, comp)
	}

	c.JSON(http.StatusOK, gin.H{
		"components": response,
		"count":      len(response),
	})
}

// GET /api/v1/components/:id
func (s *Server) getComponent(c *gin.Context) {
	comp, ok := s.lm.Table().GetComponentByID(c.Param("id"))
	if !ok {
		respondError(c, types.ErrComponentNotFound)
		return
	}
	c.JSON(http.StatusOK, s.describe(comp))
}

// POST /api/v1/components
func (s *Server) createComponent(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "COMPONENT_400", err)
		return
	}
	comp, err := types.UnmarshalComponent(body)
	if err != nil {
		respondError(c, err)
		return
	}

	stored, err := s.lm.Table().AddComponent(comp)
	if err != nil {
		respondError(c, err)
		return
	}

	// New components snap to the grid like a moved one.
	if _, err := s.lm.Detector().CheckOverlap(stored.Common().ID, rectOf(stored)); err != nil {
		respondError(c, err)
		return
	}
	stored, _ = s.lm.Table().GetComponentByID(stored.Common().ID)

	s.logger.Info("Component created",
		zap.String("component_id", stored.Common().ID),
		zap.String("type", string(stored.Kind())))
	c.JSON(http.StatusCreated, s.describe(stored))
}

// PATCH /api/v1/components/:id
func (s *Server) updateComponent(c *gin.Context) {
	var patch types.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "COMPONENT_400", err)
		return
	}

	id := c.Param("id")
	updated, err := s.lm.Table().UpdateComponent(id, patch)
	if err != nil {
		respondError(c, err)
		return
	}

	for _, key := range []string{"x", "y", "width", "height", "parentPage"} {
		if _, ok := patch[key]; ok {
			if _, err := s.lm.Detector().CheckOverlap(id, rectOf(updated)); err != nil {
				respondError(c, err)
				return
			}
			updated, _ = s.lm.Table().GetComponentByID(id)
			break
		}
	}

	c.JSON(http.StatusOK, s.describe(updated))
}

// DELETE /api/v1/components/:id
func (s *Server) deleteComponent(c *gin.Context) {
	id := c.Param("id")
	if err := s.lm.Table().RemoveComponent(id); err != nil {
		respondError(c, err)
		return
	}
	if err := s.lm.Detector().Recompute(); err != nil {
		s.logger.Warn("Failed to recompute overlaps", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"message": "component deleted"})
}

// PUT /api/v1/components/:id/geometry
func (s *Server) moveComponent(c *gin.Context) {
	var rect geometry.Rect
	if err := c.ShouldBindJSON(&rect); err != nil {
		badRequest(c, "COMPONENT_400", err)
		return
	}

	id := c.Param("id")
	if _, err := s.lm.Detector().CheckOverlap(id, rect); err != nil {
		respondError(c, err)
		return
	}
	comp, ok := s.lm.Table().GetComponentByID(id)
	if !ok {
		respondError(c, types.ErrComponentNotFound)
		return
	}
	c.JSON(http.StatusOK, s.describe(comp))
}

// GET /api/v1/components/:id/overlaps
func (s *Server) getOverlaps(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.lm.Table().GetComponentByID(id); !ok {
		respondError(c, types.ErrComponentNotFound)
		return
	}
	overlaps := s.lm.Table().Overlaps(id)
	if overlaps == nil {
		overlaps = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "overlaps": overlaps})
}

// POST /api/v1/components/:id/trigger
func (s *Server) triggerComponent(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.lm.Table().GetComponentByID(id); !ok {
		respondError(c, types.ErrComponentNotFound)
		return
	}
	if err := s.lm.Actions().Trigger(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "triggered", "id": id})
}

// POST /api/v1/components/:id/value
func (s *Server) setComponentValue(c *gin.Context) {
	var req struct {
		Value *float64 `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "COMPONENT_400", err)
		return
	}

	id := c.Param("id")
	if _, ok := s.lm.Table().GetComponentByID(id); !ok {
		respondError(c, types.ErrComponentNotFound)
		return
	}
	if err := s.lm.Actions().Set(c.Request.Context(), id, *req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "value set", "id": id, "value": *req.Value})
}

// POST /api/v1/components/:id/flight
func (s *Server) sendFlightInput(c *gin.Context) {
	var in bindings.FlightInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "COMPONENT_400", err)
		return
	}
	if err := s.lm.Binder().SendFlightInput(c.Param("id"), in); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/selection
func (s *Server) getSelection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"selected": s.lm.Table().Selected()})
}

// PUT /api/v1/selection
func (s *Server) setSelection(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "SELECTION_400", err)
		return
	}
	s.lm.Table().Select(req.IDs...)
	c.JSON(http.StatusOK, gin.H{"selected": s.lm.Table().Selected()})
}

// POST /api/v1/selection/move
func (s *Server) moveSelection(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids"`
		DX  float64  `json:"dx"`
		DY  float64  `json:"dy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "SELECTION_400", err)
		return
	}

	ids := req.IDs
	if len(ids) == 0 {
		ids = s.lm.Table().Selected()
	}
	if err := s.lm.Detector().MoveSelection(ids, req.DX, req.DY); err != nil {
		respondError(c, err)
		return
	}

	response := make([]componentResponse, 0, len(ids))
	for _, id := range ids {
		if comp, ok := s.lm.Table().GetComponentByID(id); ok {
			response = append(response, s.describe(comp))
		}
	}
	c.JSON(http.StatusOK, gin.H{"components": response})
}
