package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/backend/internal/services"
	"github.com/huangang/taskhub/backend/pkg/response"
)

// respondError writes a service error with its HTTP status and reason code.
// Internal failures never reach the client beyond the opaque message.
func respondError(c *gin.Context, err error) {
	response.Error(c, toAppError(err))
}

func toAppError(err error) *response.AppError {
	code := services.CodeOf(err)
	if code == services.CodeInternal {
		return response.NewServerError(response.InternalErrorMessage).WithReason(string(code))
	}

	var appErr *response.AppError
	switch code {
	case services.CodeProjectNotFound, services.CodeUserNotFound, services.CodeLinkNotFound:
		appErr = response.NewNotFound(err.Error())
	case services.CodeForbiddenSelfAssignment, services.CodeInsufficientRank, services.CodeAccessDenied,
		services.CodeOwnerCannotLeave, services.CodeLinkExpired, services.CodeLinkUsageExceeded,
		services.CodeLinkInactive:
		appErr = response.NewForbidden(err.Error())
	case services.CodeInvalidCredentials, services.CodeInvalidRefreshToken:
		appErr = response.NewUnauthorized(err.Error())
	case services.CodeUserExists:
		appErr = response.NewConflict(err.Error())
	default:
		// CannotModifyOwner, MustJoinViaShareLink, NoOpAssignment, Invalid*,
		// UnknownRole, DuplicateProjectName, NotAMember, CannotKickOwner,
		// ActiveLinkExists
		appErr = response.NewBadRequest(err.Error())
	}
	return appErr.WithReason(string(code))
}

// parseID reads a uint path parameter, answering 400 when it is malformed.
func parseID(c *gin.Context, param, label string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+label+" id")
		return 0, false
	}
	return uint(id), true
}
