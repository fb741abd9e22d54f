package response

import "github.com/gin-gonic/gin"

const (
	CodeConflict           = "CONFLICT"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error is the body of every failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Abort writes err as JSON and stops the handler chain.
func Abort(c *gin.Context, status int, err Error) {
	c.AbortWithStatusJSON(status, err)
}

func Unauthorized() Error {
	return Error{Code: CodeUnauthorized, Message: "user is not authorized"}
}

func BadRequest(msg string) Error {
	return Error{Code: CodeBadRequest, Message: msg}
}

func Internal() Error {
	return Error{Code: CodeInternal, Message: "something went wrong"}
}
