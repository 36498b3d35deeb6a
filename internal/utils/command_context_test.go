package utils_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/deployagent/internal/utils"
)

const testConfigurationFilePathConstant = "/etc/deployagent/config.yaml"

func TestConfigurationFilePathRoundTrip(testInstance *testing.T) {
	parentContext := context.Background()

	updatedContext := utils.ContextWithConfigurationFilePath(parentContext, testConfigurationFilePathConstant)
	resolvedPath, pathAvailable := utils.ConfigurationFilePathFromContext(updatedContext)
	require.True(testInstance, pathAvailable)
	require.Equal(testInstance, testConfigurationFilePathConstant, resolvedPath)
}

func TestConfigurationFilePathAbsentCases(testInstance *testing.T) {
	testCases := []struct {
		name             string
		executionContext context.Context
	}{
		{name: "nil_context", executionContext: nil},
		{name: "unadorned_context", executionContext: context.Background()},
		{name: "empty_recorded_path", executionContext: utils.ContextWithConfigurationFilePath(context.Background(), "")},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			resolvedPath, pathAvailable := utils.ConfigurationFilePathFromContext(testCase.executionContext)
			require.False(testInstance, pathAvailable)
			require.Empty(testInstance, resolvedPath)
		})
	}
}

func TestContextWithConfigurationFilePathToleratesNilParent(testInstance *testing.T) {
	updatedContext := utils.ContextWithConfigurationFilePath(nil, testConfigurationFilePathConstant)
	require.NotNil(testInstance, updatedContext)

	resolvedPath, pathAvailable := utils.ConfigurationFilePathFromContext(updatedContext)
	require.True(testInstance, pathAvailable)
	require.Equal(testInstance, testConfigurationFilePathConstant, resolvedPath)
}
