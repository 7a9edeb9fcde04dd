package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/decision"
	"github.com/promptgate/promptgate/internal/dlp"
	"github.com/promptgate/promptgate/internal/logger"
	"github.com/promptgate/promptgate/internal/websocket"
)

// DecisionService is the decision surface the gateway exposes over HTTP.
type DecisionService interface {
	Evaluate(ctx context.Context, req *decision.Request) (*decision.Response, error)
	CreateApprovalCase(ctx context.Context, req *decision.CreateApprovalRequest) (*decision.ApprovalCaseInfo, error)
	GetApprovalCaseStatus(ctx context.Context, caseID string) (*decision.ApprovalStatus, error)
	RecordUserAction(body map[string]interface{}) decision.Ack
	Ping() decision.Ping
}

// Server is the HTTP gateway in front of the decision and classification
// services.
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	decisions  DecisionService
	classifier *dlp.Classifier
	profiles   *dlp.ProfileRegistry
	router     *mux.Router
	server     *http.Server
	wsHub      *websocket.Hub
	limiter    *rateLimiter
}

// New creates a new gateway server instance. wsHub may be nil when the live
// feed is disabled.
func New(cfg *config.Config, log *logger.Logger, decisions DecisionService, classifier *dlp.Classifier, profiles *dlp.ProfileRegistry, wsHub *websocket.Hub) (*Server, error) {
	if classifier == nil {
		return nil, fmt.Errorf("gateway requires a classifier")
	}

	router := mux.NewRouter()

	server := &Server{
		config:     cfg,
		logger:     log.WithComponent("gateway"),
		decisions:  decisions,
		classifier: classifier,
		profiles:   profiles,
		router:     router,
		wsHub:      wsHub,
		limiter:    newRateLimiter(cfg.RateLimit),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Info endpoint
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// WebSocket endpoint for the live event feed
	if s.wsHub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/ping", s.handlePing).Methods("GET")
	api.HandleFunc("/decision", s.handleDecision).Methods("POST")
	api.HandleFunc("/decision/user-action", s.handleUserAction).Methods("POST")
	api.HandleFunc("/approvals", s.handleCreateApproval).Methods("POST")
	api.HandleFunc("/approvals/{id}", s.handleApprovalStatus).Methods("GET")
	api.HandleFunc("/detect", s.handleDetect).Methods("POST")
	api.HandleFunc("/mask", s.handleMask).Methods("POST")
	api.HandleFunc("/anonymize", s.handleAnonymize).Methods("POST")
	api.HandleFunc("/profiles", s.handleProfiles).Methods("GET")
	api.HandleFunc("/profiles", s.handleRegisterProfile).Methods("POST")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting PromptGate gateway",
		zap.Int("port", s.config.Server.Port),
		zap.String("default_profile", s.config.DLP.DefaultProfile),
		zap.Bool("websocket_enabled", s.config.WebSocket.Enabled),
	)

	if s.wsHub != nil && s.config.WebSocket.Enabled {
		go s.wsHub.Run()
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PromptGate gateway")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleWebSocket hands the connection to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}
