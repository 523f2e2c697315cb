package rest

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/engine/status
func (s *Server) getEngineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connection": s.lm.Session().Status(),
		"bound":      s.lm.Binder().Bound(),
	})
}

// POST /api/v1/engine/connect
func (s *Server) connectEngine(c *gin.Context) {
	if err := s.lm.Session().Connect(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.lm.Session().Status())
}

// POST /api/v1/engine/disconnect
func (s *Server) disconnectEngine(c *gin.Context) {
	s.lm.Session().Disconnect()
	c.JSON(http.StatusOK, s.lm.Session().Status())
}

// GET /api/v1/engine/properties
func (s *Server) getProperties(c *gin.Context) {
	if key := c.Query("key"); key != "" {
		v, ok := s.lm.Properties().Get(key)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"key": key, "known": false})
			return
		}
		c.JSON(http.StatusOK, v)
		return
	}

	c.JSON(http.StatusOK, gin.H{"properties": s.lm.Properties().Snapshot()})
}

// GET /api/v1/engine/subscriptions
func (s *Server) getSubscriptions(c *gin.Context) {
	records := s.lm.Properties().Records()
	sort.Slice(records, func(i, j int) bool {
		if records[i].Kind != records[j].Kind {
			return records[i].Kind < records[j].Kind
		}
		return records[i].Key < records[j].Key
	})
	c.JSON(http.StatusOK, gin.H{"subscriptions": records, "count": len(records)})
}

// POST /api/v1/engine/friction/:which
func (s *Server) toggleFriction(c *gin.Context) {
	which := c.Param("which")
	if err := s.lm.Binder().ToggleFriction(c.Request.Context(), which); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "friction toggled", "friction": which})
}
