package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/pages
func (s *Server) listPages(c *gin.Context) {
	pages := s.lm.Table().Pages()
	current, _ := s.lm.Table().CurrentPage()
	c.JSON(http.StatusOK, gin.H{
		"pages":        pages,
		"current_page": current,
		"count":        len(pages),
	})
}

// GET /api/v1/pages/current
func (s *Server) getCurrentPage(c *gin.Context) {
	index, page := s.lm.Table().CurrentPage()
	c.JSON(http.StatusOK, gin.H{"index": index, "page": page})
}

// PUT /api/v1/pages/current
func (s *Server) goToPage(c *gin.Context) {
	var req struct {
		Index *int `json:"index" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "PAGE_400", err)
		return
	}
	if err := s.lm.Table().GoToPage(*req.Index); err != nil {
		respondError(c, err)
		return
	}
	s.getCurrentPage(c)
}

// GET /api/v1/pages/:id/components
func (s *Server) getPageComponents(c *gin.Context) {
	comps, err := s.lm.Table().PageComponents(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"components": comps, "count": len(comps)})
}

// POST /api/v1/pages
func (s *Server) addPage(c *gin.Context) {
	var req struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "PAGE_400", err)
			return
		}
	}
	c.JSON(http.StatusCreated, s.lm.Table().AddPage(req.X, req.Y))
}

// DELETE /api/v1/pages/:id
func (s *Server) removePage(c *gin.Context) {
	if err := s.lm.Table().RemovePage(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "page deleted"})
}
