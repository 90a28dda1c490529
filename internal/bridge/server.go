package bridge

import (
	"io"
	"net/http"
	"time"

	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/danmuck/bridgectl/internal/protocol/envelope"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func (s *Service) newRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.BridgeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", observability.HeaderControllerID},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	s.registerRoutes(r)
	return r
}

func (s *Service) registerRoutes(r gin.IRoutes) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"bridge":  s.cfg.BridgeID,
			"version": version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		ready := s.ready.Load()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"bridge":  s.cfg.BridgeID,
			"session": s.manager.Status(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/platforms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"platforms": s.registry.Names()})
	})

	r.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.store.Snapshot())
	})

	r.POST("/setup/control", s.handleControlWrite)
	r.GET("/setup/control", s.handleControlRead)
}

// handleControlWrite acknowledges every write. Whether the payload was
// usable only shows up in the next poll.
func (s *Service) handleControlWrite(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(envelope.MaxPayloadSize)+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.manager.HandleWrite(payload, s.controller(c.GetHeader(observability.HeaderControllerID))); err != nil {
		log.Debug().Err(err).Str("bridge", s.cfg.BridgeID).Msg("control write not applied")
	}
	c.Status(http.StatusNoContent)
}

func (s *Service) handleControlRead(c *gin.Context) {
	out := s.manager.HandleRead(s.controller(c.GetHeader(observability.HeaderControllerID)))
	if out == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", out)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
