package middleware

import (
	"time"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestLogger assigns an X-Request-ID, logs every request through zerowrap
// and attaches the logger to the request context for downstream handlers.
func RequestLogger(log zerowrap.Logger) echo.MiddlewareFunc {
	logRequest := echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURIPath:   true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			event := log.Info()
			if v.Error != nil || v.Status >= 500 {
				event = log.Error().Err(v.Error)
			}
			event.
				Str(zerowrap.FieldLayer, "adapter").
				Str(zerowrap.FieldAdapter, "http").
				Str("request_id", v.RequestID).
				Str(zerowrap.FieldMethod, v.Method).
				Str(zerowrap.FieldPath, v.URIPath).
				Str(zerowrap.FieldClientIP, v.RemoteIP).
				Int(zerowrap.FieldStatus, v.Status).
				Dur(zerowrap.FieldDuration, v.Latency.Round(time.Microsecond)).
				Msg("HTTP request")
			return nil
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		handler := echomw.RequestID()(logRequest(next))
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(zerowrap.WithCtx(req.Context(), log)))
			return handler(c)
		}
	}
}

// Recover turns handler panics into 500s and logs the stack.
func Recover(log zerowrap.Logger) echo.MiddlewareFunc {
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error().
				Err(err).
				Str(zerowrap.FieldLayer, "adapter").
				Str(zerowrap.FieldAdapter, "http").
				Str(zerowrap.FieldPath, c.Request().URL.Path).
				Bytes("stack", stack).
				Msg("panic recovered")
			return err
		},
	})
}
