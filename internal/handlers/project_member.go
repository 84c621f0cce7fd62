package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/backend/internal/middleware"
	"github.com/huangang/taskhub/backend/internal/services"
	"github.com/huangang/taskhub/backend/pkg/response"
)

// ProjectMemberHandler exposes membership changes of a project.
type ProjectMemberHandler struct {
	memberService *services.MembershipService
}

func NewProjectMemberHandler(memberService *services.MembershipService) *ProjectMemberHandler {
	return &ProjectMemberHandler{memberService: memberService}
}

// List returns the owner and all members of a project.
// GET /api/projects/:id/members
func (h *ProjectMemberHandler) List(c *gin.Context) {
	projectID, ok := parseID(c, "id", "project")
	if !ok {
		return
	}

	members, err := h.memberService.List(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, members)
}

// AssignRole changes an existing member's role.
// POST /api/projects/:id/assign-role
func (h *ProjectMemberHandler) AssignRole(c *gin.Context) {
	projectID, ok := parseID(c, "id", "project")
	if !ok {
		return
	}

	var req services.AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	member, err := h.memberService.AssignRole(c.Request.Context(), projectID, req.UserID, req.RoleID, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, member)
}

// Kick removes another member from the project.
// POST /api/projects/:id/kick
func (h *ProjectMemberHandler) Kick(c *gin.Context) {
	projectID, ok := parseID(c, "id", "project")
	if !ok {
		return
	}

	var req services.KickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.memberService.Kick(c.Request.Context(), projectID, req.UserID, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "member removed"})
}

// Leave removes the caller from the project.
// POST /api/projects/:id/leave
func (h *ProjectMemberHandler) Leave(c *gin.Context) {
	projectID, ok := parseID(c, "id", "project")
	if !ok {
		return
	}

	if err := h.memberService.Leave(c.Request.Context(), projectID, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "left project"})
}
