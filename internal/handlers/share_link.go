package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/backend/internal/middleware"
	"github.com/huangang/taskhub/backend/internal/services"
	"github.com/huangang/taskhub/backend/pkg/response"
)

type ShareLinkHandler struct {
	linkService      *services.ShareLinkService
	defaultExpiresIn int
}

// NewShareLinkHandler uses defaultExpiresIn (minutes) when a create request
// omits expires_in.
func NewShareLinkHandler(linkService *services.ShareLinkService, defaultExpiresIn int) *ShareLinkHandler {
	return &ShareLinkHandler{linkService: linkService, defaultExpiresIn: defaultExpiresIn}
}

// List returns every link of the project.
// GET /api/projects/:id/share-links
func (h *ShareLinkHandler) List(c *gin.Context) {
	projectID, ok := parseID(c, "id", "project")
	if !ok {
		return
	}

	links, err := h.linkService.List(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, links)
}

// Create issues a new invite link.
// POST /api/projects/:id/share-links
func (h *ShareLinkHandler) Create(c *gin.Context) {
	projectID, ok := parseID(c, "id", "project")
	if !ok {
		return
	}

	var req services.CreateShareLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	expiresIn := h.defaultExpiresIn
	if req.ExpiresIn != nil {
		expiresIn = *req.ExpiresIn
	}

	link, err := h.linkService.Create(c.Request.Context(), projectID, middleware.GetUserID(c), req.RoleID, req.MaxUses, expiresIn)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Created(c, link)
}

// Delete removes a link.
// DELETE /api/projects/:id/share-links/:linkID
func (h *ShareLinkHandler) Delete(c *gin.Context) {
	projectID, ok := parseID(c, "id", "project")
	if !ok {
		return
	}
	linkID, ok := parseID(c, "linkID", "share link")
	if !ok {
		return
	}

	if err := h.linkService.Delete(c.Request.Context(), projectID, linkID, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "share link deleted"})
}

// Deactivate switches a link off.
// POST /api/projects/:id/share-links/:linkID/deactivate
func (h *ShareLinkHandler) Deactivate(c *gin.Context) {
	projectID, ok := parseID(c, "id", "project")
	if !ok {
		return
	}
	linkID, ok := parseID(c, "linkID", "share link")
	if !ok {
		return
	}

	link, err := h.linkService.Deactivate(c.Request.Context(), projectID, linkID, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, link)
}

// Join redeems a link for the caller.
// POST /api/projects/join/:token
func (h *ShareLinkHandler) Join(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.BadRequest(c, "token is required")
		return
	}

	result, err := h.linkService.Redeem(c.Request.Context(), token, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, result)
}
