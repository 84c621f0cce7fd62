package services

import (
	"errors"
	"fmt"

	"github.com/huangang/taskhub/backend/pkg/logger"
)

// ErrorCode is a stable, machine-readable failure reason.
type ErrorCode string

const (
	CodeUnknownRole             ErrorCode = "UnknownRole"
	CodeInvalidRole             ErrorCode = "InvalidRole"
	CodeCannotModifyOwner       ErrorCode = "CannotModifyOwner"
	CodeForbiddenSelfAssignment ErrorCode = "ForbiddenSelfAssignment"
	CodeMustJoinViaShareLink    ErrorCode = "MustJoinViaShareLink"
	CodeInsufficientRank        ErrorCode = "InsufficientRank"
	CodeNoOpAssignment          ErrorCode = "NoOpAssignment"
	CodeCannotKickOwner         ErrorCode = "CannotKickOwner"
	CodeOwnerCannotLeave        ErrorCode = "OwnerCannotLeave"
	CodeNotAMember              ErrorCode = "NotAMember"
	CodeLinkNotFound            ErrorCode = "LinkNotFound"
	CodeLinkExpired             ErrorCode = "LinkExpired"
	CodeLinkUsageExceeded       ErrorCode = "LinkUsageExceeded"
	CodeLinkInactive            ErrorCode = "LinkInactive"
	CodeInvalidQuota            ErrorCode = "InvalidQuota"
	CodeInvalidExpiry           ErrorCode = "InvalidExpiry"
	CodeActiveLinkExists        ErrorCode = "ActiveLinkExists"
	CodeProjectNotFound         ErrorCode = "ProjectNotFound"
	CodeUserNotFound            ErrorCode = "UserNotFound"
	CodeAccessDenied            ErrorCode = "AccessDenied"
	CodeInvalidProjectName      ErrorCode = "InvalidProjectName"
	CodeDuplicateProjectName    ErrorCode = "DuplicateProjectName"
	CodeInvalidCredentials      ErrorCode = "InvalidCredentials"
	CodeUserExists              ErrorCode = "UserExists"
	CodeInvalidRefreshToken     ErrorCode = "InvalidRefreshToken"
	CodeInternal                ErrorCode = "Internal"
)

// Error is a domain failure. Two errors match under errors.Is when their
// codes match, so callers compare against the Err* values below.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnknownRole             = &Error{Code: CodeUnknownRole, Message: "unknown role"}
	ErrInvalidRole             = &Error{Code: CodeInvalidRole, Message: "role cannot be granted"}
	ErrCannotModifyOwner       = &Error{Code: CodeCannotModifyOwner, Message: "cannot change the project owner's role"}
	ErrForbiddenSelfAssignment = &Error{Code: CodeForbiddenSelfAssignment, Message: "cannot change your own role"}
	ErrMustJoinViaShareLink    = &Error{Code: CodeMustJoinViaShareLink, Message: "user must join the project via a share link first"}
	ErrInsufficientRank        = &Error{Code: CodeInsufficientRank, Message: "your role is not high enough for this action"}
	ErrNoOpAssignment          = &Error{Code: CodeNoOpAssignment, Message: "user already has this role"}
	ErrCannotKickOwner         = &Error{Code: CodeCannotKickOwner, Message: "cannot remove the project owner"}
	ErrOwnerCannotLeave        = &Error{Code: CodeOwnerCannotLeave, Message: "the project owner cannot leave the project"}
	ErrNotAMember              = &Error{Code: CodeNotAMember, Message: "user is not a member of this project"}
	ErrLinkNotFound            = &Error{Code: CodeLinkNotFound, Message: "share link not found"}
	ErrLinkExpired             = &Error{Code: CodeLinkExpired, Message: "share link has expired"}
	ErrLinkUsageExceeded       = &Error{Code: CodeLinkUsageExceeded, Message: "share link usage limit reached"}
	ErrLinkInactive            = &Error{Code: CodeLinkInactive, Message: "share link is no longer active"}
	ErrInvalidQuota            = &Error{Code: CodeInvalidQuota, Message: "max_uses must be at least 1"}
	ErrInvalidExpiry           = &Error{Code: CodeInvalidExpiry, Message: "expires_in must be at least 1 minute"}
	ErrActiveLinkExists        = &Error{Code: CodeActiveLinkExists, Message: "project already has an active share link"}
	ErrProjectNotFound         = &Error{Code: CodeProjectNotFound, Message: "project not found"}
	ErrUserNotFound            = &Error{Code: CodeUserNotFound, Message: "user not found"}
	ErrAccessDenied            = &Error{Code: CodeAccessDenied, Message: "you do not have access to this project"}
	ErrInvalidProjectName      = &Error{Code: CodeInvalidProjectName, Message: "project name must be at least 3 characters"}
	ErrDuplicateProjectName    = &Error{Code: CodeDuplicateProjectName, Message: "you already own a project with this name"}
	ErrInvalidCredentials      = &Error{Code: CodeInvalidCredentials, Message: "invalid username or password"}
	ErrUserExists              = &Error{Code: CodeUserExists, Message: "username or email already taken"}
	ErrInvalidRefreshToken     = &Error{Code: CodeInvalidRefreshToken, Message: "invalid refresh token"}
	ErrInternal                = &Error{Code: CodeInternal, Message: "internal error"}
)

// CodeOf extracts the code of a domain error; anything else is Internal.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// internalError logs an infrastructure failure and hides it behind ErrInternal.
func internalError(op string, err error) error {
	logger.Error().Err(err).Str("op", op).Msg("storage operation failed")
	return &Error{Code: CodeInternal, Message: ErrInternal.Message, cause: fmt.Errorf("%s: %w", op, err)}
}

// finish passes domain errors through and converts everything else.
func finish(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internalError(op, err)
}
