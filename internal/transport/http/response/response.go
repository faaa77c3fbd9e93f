package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeUnauthorized       = 40100
	CodeForbidden          = 40300
	CodeDocumentNotFound   = 40401
	CodeInternalServer     = 50000
	CodeServiceUnavailable = 50300
	CodeTimeout            = 50400
)

type APIResponse struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// RequestIDKey is where the request-id middleware stores the id on the gin context.
const RequestIDKey = "request_id"

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:      CodeOK,
		Message:   "ok",
		RequestID: c.GetString(RequestIDKey),
		Data:      data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:      code,
		Message:   message,
		RequestID: c.GetString(RequestIDKey),
	})
}
