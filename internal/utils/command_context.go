package utils

import "context"

type commandContextKey string

const configurationFilePathContextKeyConstant = commandContextKey("deployagent.configurationFilePath")

// ContextWithConfigurationFilePath returns a child context carrying the resolved configuration file path.
func ContextWithConfigurationFilePath(parentContext context.Context, configurationFilePath string) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	return context.WithValue(parentContext, configurationFilePathContextKeyConstant, configurationFilePath)
}

// ConfigurationFilePathFromContext reports the configuration file path recorded on the context, when present.
func ConfigurationFilePathFromContext(executionContext context.Context) (string, bool) {
	if executionContext == nil {
		return "", false
	}
	configurationFilePath, configurationFilePathAvailable := executionContext.Value(configurationFilePathContextKeyConstant).(string)
	if !configurationFilePathAvailable || configurationFilePath == "" {
		return "", false
	}
	return configurationFilePath, true
}
