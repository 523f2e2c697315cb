package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{types.ErrComponentNotFound, http.StatusNotFound, "COMPONENT_404", "Component not found"},
	{types.ErrComponentExists, http.StatusConflict, "COMPONENT_409", "Component already exists"},
	{types.ErrImmutableField, http.StatusBadRequest, "COMPONENT_400", "Field cannot be changed"},
	{types.ErrPageNotFound, http.StatusNotFound, "PAGE_404", "Page not found"},
	{types.ErrNotMultiOption, http.StatusBadRequest, "MULTI_400", "Component cannot be a multi member"},
	{types.ErrMembershipOutsideEdit, http.StatusBadRequest, "MULTI_400", "Multi membership changes need an edit session"},
	{types.ErrUnknownMemberReference, http.StatusBadRequest, "MULTI_400", "Unknown multi member"},
	{types.ErrEditSessionOpen, http.StatusConflict, "MULTI_409", "A multi edit session is already open"},
	{types.ErrNoEditSession, http.StatusConflict, "MULTI_409", "No multi edit session is open"},
	{types.ErrRunNotFound, http.StatusNotFound, "RUN_404", "Sequencer run not found"},
	{types.ErrMissingTriggerBinding, http.StatusConflict, "ACTION_409", "Component has no trigger binding"},
	{types.ErrNotConnected, http.StatusServiceUnavailable, "ENGINE_503", "Engine not connected"},
	{types.ErrHandshakeFailed, http.StatusBadGateway, "ENGINE_502", "Engine handshake failed"},
	{types.ErrTransportFault, http.StatusBadGateway, "ENGINE_502", "Engine transport fault"},
	{types.ErrProjectNotFound, http.StatusNotFound, "PROJECT_404", "Project not found"},
	{types.ErrInvalidProject, http.StatusUnprocessableEntity, "PROJECT_422", "Invalid project"},
}

// respondError writes the error payload for err, falling back to a 500.
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, types.NewErrorResponse(m.code, m.message, err.Error()))
			return
		}
	}

	var unknown *types.UnknownComponentTypeError
	if errors.As(err, &unknown) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("COMPONENT_400", "Unknown component type", unknown.Type))
		return
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, types.NewErrorResponse("SERVER_500", "Internal error", err.Error()))
}

func badRequest(c *gin.Context, code string, err error) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(code, "Invalid request body", err.Error()))
}
