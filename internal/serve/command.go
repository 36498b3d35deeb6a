package serve

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/deployagent/internal/branches"
	"github.com/temirov/deployagent/internal/deploy"
	"github.com/temirov/deployagent/internal/execshell"
	"github.com/temirov/deployagent/internal/gitrepo"
	"github.com/temirov/deployagent/internal/httpapi"
	"github.com/temirov/deployagent/internal/oplog"
	"github.com/temirov/deployagent/internal/utils"
)

const (
	commandUseConstant                    = "serve"
	commandShortDescriptionConstant       = "Run the deployment agent's admin server"
	commandLongDescriptionConstant        = "serve starts the HTTP control surface for managing the configured Git repository and restarting the main application."
	commandExecutionErrorTemplateConstant = "admin server failed: %w"
	unexpectedArgumentsMessageConstant    = "serve does not accept positional arguments"
	flagListenAddressNameConstant         = "listen"
	flagListenAddressDescriptionConstant  = "Address the admin server binds to"
	flagRepositoryPathNameConstant        = "repository"
	flagRepositoryPathDescriptionConstant = "Path to the managed Git repository"
	operationLogCapacityConstant          = 500
	configurationFileDebugMessageConstant = "resolved configuration file"
	logFieldConfigurationFileConstant     = "configuration_file"
)

var errUnexpectedArguments = errors.New(unexpectedArgumentsMessageConstant)

// LoggerProvider supplies a zap logger instance.
type LoggerProvider func() *zap.Logger

// Settings captures the resolved agent configuration the serve command runs with.
type Settings struct {
	ListenAddress string
	Deploy        deploy.Configuration
}

// SettingsProvider supplies the resolved agent settings.
type SettingsProvider func() Settings

// CommandBuilder assembles the Cobra command for running the admin server.
type CommandBuilder struct {
	LoggerProvider   LoggerProvider
	SettingsProvider SettingsProvider
}

// Build constructs the serve command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		RunE:  builder.run,
	}

	command.Flags().String(flagListenAddressNameConstant, "", flagListenAddressDescriptionConstant)
	command.Flags().String(flagRepositoryPathNameConstant, "", flagRepositoryPathDescriptionConstant)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return errUnexpectedArguments
	}

	settings := builder.resolveSettings()

	listenAddressValue, _ := command.Flags().GetString(flagListenAddressNameConstant)
	if trimmedListenAddress := strings.TrimSpace(listenAddressValue); len(trimmedListenAddress) > 0 {
		settings.ListenAddress = trimmedListenAddress
	}
	repositoryPathValue, _ := command.Flags().GetString(flagRepositoryPathNameConstant)
	if trimmedRepositoryPath := strings.TrimSpace(repositoryPathValue); len(trimmedRepositoryPath) > 0 {
		settings.Deploy.RepositoryPath = trimmedRepositoryPath
	}

	logger := builder.resolveLogger()
	if configurationFilePath, configurationFileResolved := utils.ConfigurationFilePathFromContext(command.Context()); configurationFileResolved {
		logger.Debug(configurationFileDebugMessageConstant, zap.String(logFieldConfigurationFileConstant, configurationFilePath))
	}

	server, buildError := BuildServer(logger, settings)
	if buildError != nil {
		return buildError
	}

	signalContext, stopSignalNotifications := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignalNotifications()

	serveError := server.Start(signalContext)
	if serveError != nil {
		return fmt.Errorf(commandExecutionErrorTemplateConstant, serveError)
	}

	return nil
}

// BuildServer assembles the executor, inspector, classifier, coordinator, and
// operational log behind an admin server ready to start.
func BuildServer(logger *zap.Logger, settings Settings) (*httpapi.Server, error) {
	operationLog := oplog.NewBuffer(operationLogCapacityConstant)
	commandRecorder := oplog.NewCommandEventRecorder(operationLog)

	executor, executorError := execshell.NewShellExecutor(logger, execshell.NewOSCommandRunner(), commandRecorder)
	if executorError != nil {
		return nil, executorError
	}

	repositoryManager, managerError := gitrepo.NewRepositoryManager(executor)
	if managerError != nil {
		return nil, managerError
	}

	classifier, classifierError := branches.NewClassifier(logger, repositoryManager, operationLog)
	if classifierError != nil {
		return nil, classifierError
	}

	coordinator, coordinatorError := deploy.NewCoordinator(deploy.Dependencies{
		Logger:            logger,
		Executor:          executor,
		RepositoryManager: repositoryManager,
		SafeBranchSource:  classifier,
		OperationLog:      operationLog,
	}, settings.Deploy)
	if coordinatorError != nil {
		return nil, coordinatorError
	}

	return httpapi.NewServer(httpapi.Dependencies{
		Logger:       logger,
		Inspector:    repositoryManager,
		Coordinator:  coordinator,
		Scanner:      classifier,
		OperationLog: operationLog,
	}, httpapi.Configuration{
		ListenAddress:  settings.ListenAddress,
		RepositoryPath: settings.Deploy.RepositoryPath,
		RestartCommand: settings.Deploy.RestartCommand,
	})
}

func (builder *CommandBuilder) resolveSettings() Settings {
	if builder.SettingsProvider == nil {
		return Settings{Deploy: deploy.DefaultConfiguration()}
	}
	return builder.SettingsProvider()
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider == nil {
		return zap.NewNop()
	}

	logger := builder.LoggerProvider()
	if logger == nil {
		return zap.NewNop()
	}

	return logger
}
