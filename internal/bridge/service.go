package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/bridgectl/internal/auth"
	"github.com/danmuck/bridgectl/internal/config"
	"github.com/danmuck/bridgectl/internal/plugins"
	"github.com/danmuck/bridgectl/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("bridge: invalid heartbeat interval")
	ErrNoTransport              = errors.New("bridge: no control transport configured")
)

// ServiceConfig configures the bridge process. A non-empty Controllers list
// admits only those controller ids on the control channel.
type ServiceConfig struct {
	BridgeID          string
	HTTPAddr          string
	ControlAddr       string
	ConfigPath        string
	CORSOrigins       []string
	Platforms         []string
	Controllers       []string
	HeartbeatInterval time.Duration
	Session           session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		BridgeID:          "bridge.local",
		HTTPAddr:          "127.0.0.1:8581",
		ControlAddr:       "",
		ConfigPath:        "local/bridge.toml",
		CORSOrigins:       []string{"http://localhost:3000"},
		Platforms:         BuiltinPlatforms(),
		HeartbeatInterval: 30 * time.Second,
		Session:           session.DefaultConfig(),
	}
}

// Service hosts one setup control channel over the configured transports and
// persists what its setup sessions produce.
type Service struct {
	cfg      ServiceConfig
	registry *plugins.Registry
	store    *config.Store
	manager  *session.Manager
	router   *gin.Engine
	admit    auth.Validator
	started  time.Time

	controlClients atomic.Int64
	ready          atomic.Bool
}

var _ session.ConfigSink = (*Service)(nil)

// NewService builds a bridge from cfg. A nil registry is built from
// cfg.Platforms.
func NewService(cfg ServiceConfig, registry *plugins.Registry) (*Service, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if registry == nil {
		reg, err := BuildRegistry(cfg.Platforms)
		if err != nil {
			return nil, err
		}
		registry = reg
	}
	store, err := config.Open(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		registry: registry,
		store:    store,
		admit:    auth.ForIDs(cfg.Controllers),
		started:  time.Now(),
	}
	s.manager = session.NewManager(registry, s, cfg.Session)
	s.router = s.newRouter()
	return s, nil
}

func (s *Service) Manager() *session.Manager {
	return s.manager
}

func (s *Service) Store() *config.Store {
	return s.store
}

func (s *Service) Registry() *plugins.Registry {
	return s.registry
}

func (s *Service) Router() *gin.Engine {
	return s.router
}

func (s *Service) ControlClientCount() int64 {
	return s.controlClients.Load()
}

// controller resolves the caller behind a channel access. Ids the admission
// policy rejects yield nil, which the manager treats as no controller.
func (s *Service) controller(id string, aliases ...string) *session.Controller {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	for _, candidate := range append([]string{id}, aliases...) {
		if err := s.admit.Validate(candidate); err == nil {
			return &session.Controller{ID: id}
		}
	}
	log.Debug().Str("bridge", s.cfg.BridgeID).Str("controller", id).Err(auth.ErrUnknownController).Msg("control access not admitted")
	return nil
}

// NewConfig persists a plugin's configuration. Failures are logged; the
// session has already moved on by the time this runs.
func (s *Service) NewConfig(kind plugins.ConfigKind, pluginName string, replace bool, cfg map[string]any) {
	if err := s.store.Apply(kind, pluginName, replace, cfg); err != nil {
		log.Error().
			Err(err).
			Str("bridge", s.cfg.BridgeID).
			Str("plugin", pluginName).
			Str("kind", string(kind)).
			Msg("config persist failed")
		return
	}
	log.Info().
		Str("bridge", s.cfg.BridgeID).
		Str("plugin", pluginName).
		Str("kind", string(kind)).
		Bool("replace", replace).
		Msg("config persisted")
}

// RequestCurrentConfig answers from a store snapshot on its own goroutine.
func (s *Service) RequestCurrentConfig(done func(map[string]any)) {
	if done == nil {
		return
	}
	snap := s.store.Snapshot()
	go done(snap)
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the configured transports until ctx is done or one fails.
func (s *Service) Serve(ctx context.Context) error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	httpAddr := strings.TrimSpace(s.cfg.HTTPAddr)
	controlAddr := strings.TrimSpace(s.cfg.ControlAddr)
	if httpAddr == "" && controlAddr == "" {
		return ErrNoTransport
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.manager.Close()

	errs := make(chan error, 2)
	var httpSrv *http.Server
	if httpAddr != "" {
		ln, err := net.Listen("tcp", httpAddr)
		if err != nil {
			return err
		}
		httpSrv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
		log.Info().Str("bridge", s.cfg.BridgeID).Str("addr", ln.Addr().String()).Msg("http listening")
		go func() {
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}
	if controlAddr != "" {
		ln, err := net.Listen("tcp", controlAddr)
		if err != nil {
			if httpSrv != nil {
				_ = httpSrv.Close()
			}
			return err
		}
		go func() {
			errs <- s.serveControl(ctx, ln)
		}()
	}

	s.ready.Store(true)
	defer s.ready.Store(false)
	log.Info().
		Str("bridge", s.cfg.BridgeID).
		Strs("platforms", s.registry.Names()).
		Str("config", s.store.Path()).
		Msg("bridge ready")

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("bridge", s.cfg.BridgeID).Msg("bridge shutdown")
			break loop
		case err := <-errs:
			if err != nil {
				runErr = err
				break loop
			}
		case <-ticker.C:
			st := s.manager.Status()
			log.Info().
				Str("bridge", s.cfg.BridgeID).
				Bool("session_active", st.Active).
				Str("stage", st.Stage).
				Str("plugin", st.PluginName).
				Int64("control_clients", s.ControlClientCount()).
				Msg("bridge heartbeat")
		}
	}

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}
