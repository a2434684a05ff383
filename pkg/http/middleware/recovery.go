package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"MarketPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover turns a handler panic into a logged 500 with the usual error body.
func Recover(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				l.Error("panic recovered",
					logger.String("panic", fmt.Sprint(r)),
					logger.String("route", c.Path()),
					logger.String("stack", string(debug.Stack())))
				if c.Response().Committed {
					return
				}
				err = c.JSON(http.StatusInternalServerError, echo.Map{
					"error": "Something went wrong",
					"code":  "ERR_INTERNAL",
				})
			}()
			return next(c)
		}
	}
}
