package middleware

import (
	"time"

	applogger "OptionPilot/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs HTTP requests. Successful reads go to debug so the
// dashboard polling does not flood the log.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)

			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("latency", time.Since(start)),
			}
			switch {
			case err != nil:
				l.Warn("http request failed", append(fields, applogger.Error(err))...)
			case req.Method != "GET":
				l.Info("http request", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return err
		}
	}
}
