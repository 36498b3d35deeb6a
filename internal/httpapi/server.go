package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/deployagent/internal/branches"
	"github.com/temirov/deployagent/internal/deploy"
	"github.com/temirov/deployagent/internal/execshell"
	"github.com/temirov/deployagent/internal/oplog"
)

const (
	loggerMissingMessageConstant      = "logger not configured"
	inspectorMissingMessageConstant   = "repository inspector not configured"
	coordinatorMissingMessageConstant = "mutation coordinator not configured"
	defaultListenAddressConstant      = "127.0.0.1:5001"
	readHeaderTimeoutConstant         = 10 * time.Second
	shutdownGracePeriodConstant       = 5 * time.Second
	adminPageRoutePatternConstant     = "GET /{$}"
	healthRoutePatternConstant        = "GET /health"
	gitInfoRoutePatternConstant       = "GET /git/info"
	gitFetchRoutePatternConstant      = "POST /git/fetch"
	gitCheckoutRoutePatternConstant   = "POST /git/checkout"
	gitPullRoutePatternConstant       = "POST /git/pull"
	staleBranchesRoutePatternConstant = "GET /git/branches/stale"
	deleteBranchRoutePatternConstant  = "POST /git/branches/delete"
	deleteStaleRoutePatternConstant   = "POST /git/branches/delete-stale"
	restartRoutePatternConstant       = "POST /service/restart"
	logsRoutePatternConstant          = "GET /logs"
	serverStartedMessageConstant      = "admin server listening"
	serverStoppedMessageConstant      = "admin server stopped"
	logFieldListenAddressConstant     = "listen_address"
)

// ErrLoggerNotConfigured indicates the server was constructed without a logger.
var ErrLoggerNotConfigured = errors.New(loggerMissingMessageConstant)

// ErrInspectorNotConfigured indicates the server was constructed without a repository inspector.
var ErrInspectorNotConfigured = errors.New(inspectorMissingMessageConstant)

// ErrCoordinatorNotConfigured indicates the server was constructed without a mutation coordinator.
var ErrCoordinatorNotConfigured = errors.New(coordinatorMissingMessageConstant)

// RepositoryInspector exposes the read-only repository queries the API serves.
type RepositoryInspector interface {
	EnsureRepositoryRoot(repositoryPath string) error
	CurrentRef(executionContext context.Context, repositoryPath string) (string, error)
	ListBranches(executionContext context.Context, repositoryPath string) ([]string, error)
	ListTags(executionContext context.Context, repositoryPath string) ([]string, error)
	RecentLog(executionContext context.Context, repositoryPath string, limit int) ([]string, error)
}

// MutationCoordinator exposes the serialized repository mutations the API triggers.
type MutationCoordinator interface {
	FetchAll(executionContext context.Context) (execshell.ExecutionResult, error)
	Checkout(executionContext context.Context, refName string) (deploy.MutationResult, error)
	Pull(executionContext context.Context) (deploy.MutationResult, error)
	DeleteLocalBranch(executionContext context.Context, branchName string) (execshell.ExecutionResult, error)
	DeleteAllSafe(executionContext context.Context) ([]deploy.BranchDeletionOutcome, error)
	RestartMainApplication(executionContext context.Context) deploy.RestartOutcome
}

// StaleBranchScanner exposes the classifier's stale branch scan.
type StaleBranchScanner interface {
	ScanStaleBranches(executionContext context.Context, repositoryPath string) ([]branches.Classification, error)
}

// OperationLogReader exposes read access to the operational log.
type OperationLogReader interface {
	Recent(limit int) []oplog.Record
}

// Configuration captures the admin server settings.
type Configuration struct {
	ListenAddress  string
	RepositoryPath string
	RestartCommand []string
}

// Dependencies enumerates collaborators required by the admin server.
type Dependencies struct {
	Logger       *zap.Logger
	Inspector    RepositoryInspector
	Coordinator  MutationCoordinator
	Scanner      StaleBranchScanner
	OperationLog OperationLogReader
}

// Server serves the HTTP control surface.
type Server struct {
	logger        *zap.Logger
	inspector     RepositoryInspector
	coordinator   MutationCoordinator
	scanner       StaleBranchScanner
	operationLog  OperationLogReader
	configuration Configuration

	addressMutex sync.Mutex
	boundAddress string
}

// NewServer constructs a Server from the provided dependencies.
func NewServer(dependencies Dependencies, configuration Configuration) (*Server, error) {
	if dependencies.Logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if dependencies.Inspector == nil {
		return nil, ErrInspectorNotConfigured
	}
	if dependencies.Coordinator == nil {
		return nil, ErrCoordinatorNotConfigured
	}

	if len(configuration.ListenAddress) == 0 {
		configuration.ListenAddress = defaultListenAddressConstant
	}

	return &Server{
		logger:        dependencies.Logger,
		inspector:     dependencies.Inspector,
		coordinator:   dependencies.Coordinator,
		scanner:       dependencies.Scanner,
		operationLog:  dependencies.OperationLog,
		configuration: configuration,
	}, nil
}

// Handler assembles the route table.
func (server *Server) Handler() http.Handler {
	routeMultiplexer := http.NewServeMux()
	routeMultiplexer.HandleFunc(adminPageRoutePatternConstant, server.handleAdminPage)
	routeMultiplexer.HandleFunc(healthRoutePatternConstant, server.handleHealth)
	routeMultiplexer.HandleFunc(gitInfoRoutePatternConstant, server.handleGitInfo)
	routeMultiplexer.HandleFunc(gitFetchRoutePatternConstant, server.handleGitFetch)
	routeMultiplexer.HandleFunc(gitCheckoutRoutePatternConstant, server.handleGitCheckout)
	routeMultiplexer.HandleFunc(gitPullRoutePatternConstant, server.handleGitPull)
	routeMultiplexer.HandleFunc(staleBranchesRoutePatternConstant, server.handleStaleBranches)
	routeMultiplexer.HandleFunc(deleteBranchRoutePatternConstant, server.handleDeleteBranch)
	routeMultiplexer.HandleFunc(deleteStaleRoutePatternConstant, server.handleDeleteStale)
	routeMultiplexer.HandleFunc(restartRoutePatternConstant, server.handleServiceRestart)
	routeMultiplexer.HandleFunc(logsRoutePatternConstant, server.handleLogs)
	return routeMultiplexer
}

// ListenAddress reports the bound listen address once Start has opened the listener.
func (server *Server) ListenAddress() string {
	server.addressMutex.Lock()
	defer server.addressMutex.Unlock()
	return server.boundAddress
}

// Start serves the control surface until the provided context is cancelled,
// then drains in-flight requests within the shutdown grace period.
func (server *Server) Start(executionContext context.Context) error {
	listener, listenError := net.Listen("tcp", server.configuration.ListenAddress)
	if listenError != nil {
		return listenError
	}

	server.addressMutex.Lock()
	server.boundAddress = listener.Addr().String()
	server.addressMutex.Unlock()

	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeoutConstant,
	}

	shutdownComplete := make(chan struct{})
	go func() {
		defer close(shutdownComplete)
		<-executionContext.Done()
		shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), shutdownGracePeriodConstant)
		defer cancelShutdown()
		_ = httpServer.Shutdown(shutdownContext)
	}()

	server.logger.Info(serverStartedMessageConstant, zap.String(logFieldListenAddressConstant, listener.Addr().String()))

	serveError := httpServer.Serve(listener)
	<-shutdownComplete
	server.logger.Info(serverStoppedMessageConstant)

	if errors.Is(serveError, http.ErrServerClosed) {
		return nil
	}
	return serveError
}
