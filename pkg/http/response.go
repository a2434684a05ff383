package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// SuccessResponse writes data as the raw JSON body.
func SuccessResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, data)
}

// BadRequestResponse writes bad request error with validation details.
func BadRequestResponse(c echo.Context, details interface{}) error {
	return c.JSON(http.StatusBadRequest, ErrorBody{
		Error:   http.StatusText(http.StatusBadRequest),
		Code:    "ERR_BAD_REQUEST",
		Details: details,
	})
}

// InternalServerErrorResponse writes internal server error.
func InternalServerErrorResponse(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, ErrorBody{
		Error: "Something went wrong",
		Code:  "ERR_INTERNAL",
	})
}

// AppErrorResponse writes application error response.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.JSON(appErr.Status, ErrorBody{
			Error: appErr.Message,
			Code:  appErr.Code,
			Field: appErr.Field,
		})
	}
	return InternalServerErrorResponse(c)
}
