package deploy

import (
	"strings"
	"time"
)

const (
	repositoryPathConfigKeySuffixConstant    = ".repository_path"
	restartCommandConfigKeySuffixConstant    = ".restart_command"
	restartOnCheckoutConfigKeySuffixConstant = ".restart_on_checkout"
	restartOnPullConfigKeySuffixConstant     = ".restart_on_pull"
	commandTimeoutConfigKeySuffixConstant    = ".command_timeout"
	defaultCommandTimeoutConstant            = 60 * time.Second
	defaultRepositoryPathConstant            = "."
)

// Configuration captures the coordinator settings supplied by the agent configuration.
type Configuration struct {
	RepositoryPath    string        `mapstructure:"repository_path"`
	RestartCommand    []string      `mapstructure:"restart_command"`
	RestartOnCheckout bool          `mapstructure:"restart_on_checkout"`
	RestartOnPull     bool          `mapstructure:"restart_on_pull"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
}

// DefaultConfiguration provides baseline coordinator settings.
func DefaultConfiguration() Configuration {
	return Configuration{CommandTimeout: defaultCommandTimeoutConstant}
}

// DefaultConfigurationValues exposes coordinator defaults for the configuration loader.
func DefaultConfigurationValues(configurationKeyPrefix string) map[string]any {
	return map[string]any{
		configurationKeyPrefix + repositoryPathConfigKeySuffixConstant:    "",
		configurationKeyPrefix + restartCommandConfigKeySuffixConstant:    []string{},
		configurationKeyPrefix + restartOnCheckoutConfigKeySuffixConstant: false,
		configurationKeyPrefix + restartOnPullConfigKeySuffixConstant:     false,
		configurationKeyPrefix + commandTimeoutConfigKeySuffixConstant:    defaultCommandTimeoutConstant.String(),
	}
}

// RestartConfigured reports whether a restart command is available.
func (configuration Configuration) RestartConfigured() bool {
	return len(configuration.sanitizedRestartCommand()) > 0
}

// Sanitize trims configured values and applies fallback defaults.
func (configuration Configuration) Sanitize() Configuration {
	sanitized := configuration
	sanitized.RepositoryPath = strings.TrimSpace(configuration.RepositoryPath)
	if len(sanitized.RepositoryPath) == 0 {
		sanitized.RepositoryPath = defaultRepositoryPathConstant
	}
	sanitized.RestartCommand = configuration.sanitizedRestartCommand()
	if sanitized.CommandTimeout <= 0 {
		sanitized.CommandTimeout = defaultCommandTimeoutConstant
	}
	return sanitized
}

func (configuration Configuration) sanitizedRestartCommand() []string {
	sanitizedCommand := make([]string, 0, len(configuration.RestartCommand))
	for _, commandArgument := range configuration.RestartCommand {
		trimmedArgument := strings.TrimSpace(commandArgument)
		if len(trimmedArgument) == 0 {
			continue
		}
		sanitizedCommand = append(sanitizedCommand, trimmedArgument)
	}
	return sanitizedCommand
}
