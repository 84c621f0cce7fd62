package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/backend/internal/services"
	"github.com/huangang/taskhub/backend/pkg/response"
)

// RoleHandler serves the read-only role catalog.
type RoleHandler struct {
	catalog *services.RoleCatalog
}

func NewRoleHandler(catalog *services.RoleCatalog) *RoleHandler {
	return &RoleHandler{catalog: catalog}
}

// List returns the grantable roles, lowest rank first
// GET /api/roles
func (h *RoleHandler) List(c *gin.Context) {
	response.Success(c, h.catalog.List())
}

// GetByID GET /api/roles/:id
func (h *RoleHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id", "role")
	if !ok {
		return
	}

	role, err := h.catalog.ByID(id)
	if err != nil {
		response.NotFound(c, "role not found")
		return
	}

	response.Success(c, role)
}
