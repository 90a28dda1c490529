package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HeaderControllerID names the controller a control channel request belongs to.
const HeaderControllerID = "X-Controller-ID"

// Successful polls of pollPath log at trace level.
const pollPath = "/setup/control"

func routeOf(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}

// RequestLogger logs one event per request, tagged with the controller id
// when the request carries one.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := routeOf(c)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case route == pollPath && c.Request.Method == "GET":
			event = logger.Trace()
		default:
			event = logger.Debug()
		}
		if controller := c.GetHeader(HeaderControllerID); controller != "" {
			event = event.Str("controller", controller)
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Str("remote", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("bridge http request")
	}
}

func RequestMetricsMiddleware(bridgeID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(bridgeID, c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}
