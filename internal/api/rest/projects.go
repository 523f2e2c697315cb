package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenPanelCore/internal/project"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/gin-gonic/gin"
)

func requestFormat(c *gin.Context) project.Format {
	switch strings.ToLower(c.Query("format")) {
	case "yaml", "yml":
		return project.FormatYAML
	case "json":
		return project.FormatJSON
	}
	if strings.Contains(c.ContentType(), "yaml") {
		return project.FormatYAML
	}
	return project.FormatJSON
}

// respondReport answers an import with its normalization report. An invalid
// document is a 422 carrying the report as details.
func respondReport(c *gin.Context, rep project.Report, err error) {
	if err != nil && len(rep.Errors) > 0 {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("PROJECT_422", "Invalid project", rep))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}

// GET /api/v1/projects
func (s *Server) listProjects(c *gin.Context) {
	projects, err := s.lm.Projects().List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
}

// GET /api/v1/projects/export
func (s *Server) exportProject(c *gin.Context) {
	name := c.DefaultQuery("name", "project")
	format := requestFormat(c)

	data, err := s.lm.Projects().Export(name, format)
	if err != nil {
		respondError(c, err)
		return
	}

	contentType := "application/json"
	if format == project.FormatYAML {
		contentType = "application/yaml"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"."+string(format)))
	c.Data(http.StatusOK, contentType, data)
}

// POST /api/v1/projects/import
func (s *Server) importProject(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		badRequest(c, "PROJECT_400", err)
		return
	}
	rep, err := s.lm.Projects().Import(data, requestFormat(c))
	if err == nil {
		err = s.lm.Detector().Recompute()
	}
	respondReport(c, rep, err)
}

// POST /api/v1/projects/:name/save
func (s *Server) saveProject(c *gin.Context) {
	name := c.Param("name")
	if err := s.lm.Projects().Save(c.Request.Context(), name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "project saved", "name": name})
}

// POST /api/v1/projects/:name/load
func (s *Server) loadProject(c *gin.Context) {
	rep, err := s.lm.Projects().Load(c.Request.Context(), c.Param("name"))
	if err == nil {
		err = s.lm.Detector().Recompute()
	}
	respondReport(c, rep, err)
}

// DELETE /api/v1/projects/:name
func (s *Server) deleteProject(c *gin.Context) {
	if err := s.lm.Projects().Delete(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "project deleted"})
}
