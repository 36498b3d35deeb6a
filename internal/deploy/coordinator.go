package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/temirov/deployagent/internal/execshell"
	"github.com/temirov/deployagent/internal/gitrepo"
	"github.com/temirov/deployagent/internal/oplog"
)

const (
	executorMissingMessageConstant          = "command executor not configured"
	repositoryManagerMissingMessageConstant = "repository manager not configured"
	safeBranchSourceMissingMessageConstant  = "safe branch source not configured"
	activeBranchDeletionMessageConstant     = "refusing to delete the checked-out branch"
	restartNotConfiguredReasonConstant      = "restart command not configured"
	gitFetchSubcommandConstant              = "fetch"
	gitFetchAllFlagConstant                 = "--all"
	gitFetchPruneFlagConstant               = "--prune"
	gitCheckoutSubcommandConstant           = "checkout"
	gitCheckoutCreateBranchFlagConstant     = "-b"
	gitPullSubcommandConstant               = "pull"
	gitBranchSubcommandConstant             = "branch"
	gitBranchListFlagConstant               = "--list"
	gitBranchDeleteFlagConstant             = "--delete"
	remoteRefPrefixConstant                 = "remotes/"
	remoteRefSeparatorConstant              = "/"
	remoteRefMinimumSegmentsConstant        = 3
	fetchSucceededRecordConstant            = "Fetched remote updates"
	fetchFailedRecordTemplateConstant       = "Fetch failed: %s"
	checkoutSucceededRecordTemplateConstant = "Checked out %q"
	checkoutFailedRecordTemplateConstant    = "Checkout of %q failed: %s"
	pullSucceededRecordConstant             = "Pulled latest changes"
	pullFailedRecordTemplateConstant        = "Pull failed: %s"
	deleteSucceededRecordTemplateConstant   = "Deleted local branch %q"
	deleteFailedRecordTemplateConstant      = "Deletion of local branch %q failed: %s"
	deleteAllSafeRecordTemplateConstant     = "Deleted %d of %d safe-to-delete branch(es)"
	restartSucceededRecordConstant          = "Main application restart command executed"
	restartFailedRecordTemplateConstant     = "Main application restart command failed: %s"
	restartSkippedRecordTemplateConstant    = "Main application restart skipped: %s"
	invalidArgumentRecordTemplateConstant   = "Rejected %s request: %s"
	checkoutOperationLabelConstant          = "checkout"
	deleteOperationLabelConstant            = "branch deletion"
	logFieldRefConstant                     = "ref"
	logFieldBranchConstant                  = "branch"
	restartTriggeredDebugMessageConstant    = "post-mutation restart triggered"
)

// ErrExecutorNotConfigured indicates the coordinator was constructed without an executor.
var ErrExecutorNotConfigured = errors.New(executorMissingMessageConstant)

// ErrRepositoryManagerNotConfigured indicates the coordinator was constructed without a repository manager.
var ErrRepositoryManagerNotConfigured = errors.New(repositoryManagerMissingMessageConstant)

// ErrSafeBranchSourceNotConfigured indicates DeleteAllSafe was invoked without a classifier.
var ErrSafeBranchSourceNotConfigured = errors.New(safeBranchSourceMissingMessageConstant)

// ErrActiveBranchDeletion indicates an attempt to delete the checked-out branch.
var ErrActiveBranchDeletion = errors.New(activeBranchDeletionMessageConstant)

// InvalidArgumentError marks a request rejected before any repository mutation.
type InvalidArgumentError struct {
	Cause error
}

// Error describes the rejected argument.
func (invalidArgument InvalidArgumentError) Error() string {
	return invalidArgument.Cause.Error()
}

// Unwrap exposes the underlying rejection.
func (invalidArgument InvalidArgumentError) Unwrap() error {
	return invalidArgument.Cause
}

// RestartOutcome reports whether a restart was attempted and how it went.
type RestartOutcome struct {
	Attempted     bool
	SkippedReason string
	Result        *execshell.ExecutionResult
}

// MutationResult pairs a git mutation's result with the optional restart outcome.
// The two are reported independently: a restart failure never overturns the
// mutation's own success status.
type MutationResult struct {
	Command execshell.ExecutionResult
	Restart *RestartOutcome
}

// BranchDeletionOutcome reports one branch's deletion attempt.
type BranchDeletionOutcome struct {
	BranchName string
	Result     execshell.ExecutionResult
}

// CommandExecutor exposes the shell execution surface the coordinator uses.
type CommandExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// RepositoryManager exposes the repository queries the coordinator composes.
type RepositoryManager interface {
	EnsureRepositoryRoot(repositoryPath string) error
	CurrentBranch(executionContext context.Context, repositoryPath string) (string, error)
}

// SafeBranchSource supplies the current safe-to-delete branch set.
type SafeBranchSource interface {
	SafeToDeleteBranches(executionContext context.Context, repositoryPath string) ([]string, error)
}

// OperationLog records coordinator outcomes for the audit trail.
type OperationLog interface {
	Append(severity oplog.Severity, message string) oplog.Record
}

// Dependencies enumerates external collaborators required by the coordinator.
type Dependencies struct {
	Logger            *zap.Logger
	Executor          CommandExecutor
	RepositoryManager RepositoryManager
	SafeBranchSource  SafeBranchSource
	OperationLog      OperationLog
}

// Coordinator performs repository mutations as serialized operations.
//
// All mutating operations are mutually exclusive: concurrent git mutations
// against one working tree produce undefined state and must be prevented.
type Coordinator struct {
	logger            *zap.Logger
	executor          CommandExecutor
	repositoryManager RepositoryManager
	safeBranchSource  SafeBranchSource
	operationLog      OperationLog
	configuration     Configuration
	mutationMutex     sync.Mutex
}

// NewCoordinator constructs a Coordinator from the provided dependencies.
func NewCoordinator(dependencies Dependencies, configuration Configuration) (*Coordinator, error) {
	if dependencies.Executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	if dependencies.RepositoryManager == nil {
		return nil, ErrRepositoryManagerNotConfigured
	}

	coordinatorLogger := dependencies.Logger
	if coordinatorLogger == nil {
		coordinatorLogger = zap.NewNop()
	}

	return &Coordinator{
		logger:            coordinatorLogger,
		executor:          dependencies.Executor,
		repositoryManager: dependencies.RepositoryManager,
		safeBranchSource:  dependencies.SafeBranchSource,
		operationLog:      dependencies.OperationLog,
		configuration:     configuration.Sanitize(),
	}, nil
}

// FetchAll updates remote-tracking information across all configured remotes,
// pruning tracking refs whose remote branches no longer exist.
func (coordinator *Coordinator) FetchAll(executionContext context.Context) (execshell.ExecutionResult, error) {
	coordinator.mutationMutex.Lock()
	defer coordinator.mutationMutex.Unlock()

	if rootError := coordinator.repositoryManager.EnsureRepositoryRoot(coordinator.configuration.RepositoryPath); rootError != nil {
		return execshell.ExecutionResult{}, rootError
	}

	fetchResult, executionError := coordinator.executeGit(executionContext, gitFetchSubcommandConstant, gitFetchAllFlagConstant, gitFetchPruneFlagConstant)
	if executionError != nil {
		return execshell.ExecutionResult{}, executionError
	}

	if fetchResult.Successful() {
		coordinator.appendRecord(oplog.SeveritySuccess, fetchSucceededRecordConstant)
	} else {
		coordinator.appendRecord(oplog.SeverityError, fmt.Sprintf(fetchFailedRecordTemplateConstant, summarizeFailure(fetchResult)))
	}
	return fetchResult, nil
}

// Checkout switches the working tree to the requested ref. A remote ref of the
// form remotes/<remote>/<branch> without a matching local branch is checked
// out as a new local tracking branch, mirroring interactive git usage.
func (coordinator *Coordinator) Checkout(executionContext context.Context, refName string) (MutationResult, error) {
	coordinator.mutationMutex.Lock()
	defer coordinator.mutationMutex.Unlock()

	if validationError := gitrepo.ValidateRefName(refName); validationError != nil {
		coordinator.recordInvalidArgument(checkoutOperationLabelConstant, validationError)
		return MutationResult{}, InvalidArgumentError{Cause: validationError}
	}
	if rootError := coordinator.repositoryManager.EnsureRepositoryRoot(coordinator.configuration.RepositoryPath); rootError != nil {
		return MutationResult{}, rootError
	}

	checkoutResult, executionError := coordinator.performCheckout(executionContext, refName)
	if executionError != nil {
		return MutationResult{}, executionError
	}

	mutationResult := MutationResult{Command: checkoutResult}
	if checkoutResult.Successful() {
		coordinator.appendRecord(oplog.SeveritySuccess, fmt.Sprintf(checkoutSucceededRecordTemplateConstant, refName))
		if coordinator.configuration.RestartOnCheckout {
			coordinator.logger.Debug(restartTriggeredDebugMessageConstant, zap.String(logFieldRefConstant, refName))
			restartOutcome := coordinator.runRestart(executionContext)
			mutationResult.Restart = &restartOutcome
		}
	} else {
		coordinator.appendRecord(oplog.SeverityError, fmt.Sprintf(checkoutFailedRecordTemplateConstant, refName, summarizeFailure(checkoutResult)))
	}
	return mutationResult, nil
}

// Pull updates the current branch from its upstream.
func (coordinator *Coordinator) Pull(executionContext context.Context) (MutationResult, error) {
	coordinator.mutationMutex.Lock()
	defer coordinator.mutationMutex.Unlock()

	if rootError := coordinator.repositoryManager.EnsureRepositoryRoot(coordinator.configuration.RepositoryPath); rootError != nil {
		return MutationResult{}, rootError
	}

	pullResult, executionError := coordinator.executeGit(executionContext, gitPullSubcommandConstant)
	if executionError != nil {
		return MutationResult{}, executionError
	}

	mutationResult := MutationResult{Command: pullResult}
	if pullResult.Successful() {
		coordinator.appendRecord(oplog.SeveritySuccess, pullSucceededRecordConstant)
		if coordinator.configuration.RestartOnPull {
			coordinator.logger.Debug(restartTriggeredDebugMessageConstant)
			restartOutcome := coordinator.runRestart(executionContext)
			mutationResult.Restart = &restartOutcome
		}
	} else {
		coordinator.appendRecord(oplog.SeverityError, fmt.Sprintf(pullFailedRecordTemplateConstant, summarizeFailure(pullResult)))
	}
	return mutationResult, nil
}

// DeleteLocalBranch removes a local branch in non-force mode so git's own
// not-fully-merged safety check still applies as a last line of defense.
func (coordinator *Coordinator) DeleteLocalBranch(executionContext context.Context, branchName string) (execshell.ExecutionResult, error) {
	coordinator.mutationMutex.Lock()
	defer coordinator.mutationMutex.Unlock()
	return coordinator.deleteLocalBranchLocked(executionContext, branchName)
}

// DeleteAllSafe deletes every branch currently graded safe to delete. One
// branch's failure never aborts the remaining deletions; every attempt's
// outcome is collected and reported.
func (coordinator *Coordinator) DeleteAllSafe(executionContext context.Context) ([]BranchDeletionOutcome, error) {
	coordinator.mutationMutex.Lock()
	defer coordinator.mutationMutex.Unlock()

	if coordinator.safeBranchSource == nil {
		return nil, ErrSafeBranchSourceNotConfigured
	}

	safeBranchNames, scanError := coordinator.safeBranchSource.SafeToDeleteBranches(executionContext, coordinator.configuration.RepositoryPath)
	if scanError != nil {
		return nil, scanError
	}

	deletionOutcomes := make([]BranchDeletionOutcome, 0, len(safeBranchNames))
	succeededCount := 0
	for _, safeBranchName := range safeBranchNames {
		deletionResult, deletionError := coordinator.deleteLocalBranchLocked(executionContext, safeBranchName)
		if deletionError != nil {
			deletionResult = execshell.ExecutionResult{StandardError: deletionError.Error(), ExitCode: 1}
		}
		if deletionResult.Successful() {
			succeededCount++
		}
		deletionOutcomes = append(deletionOutcomes, BranchDeletionOutcome{BranchName: safeBranchName, Result: deletionResult})
	}

	coordinator.appendRecord(oplog.SeverityInfo, fmt.Sprintf(deleteAllSafeRecordTemplateConstant, succeededCount, len(deletionOutcomes)))
	return deletionOutcomes, nil
}

// RestartMainApplication executes the configured restart command, or reports a
// skipped outcome when no command is configured.
func (coordinator *Coordinator) RestartMainApplication(executionContext context.Context) RestartOutcome {
	return coordinator.runRestart(executionContext)
}

func (coordinator *Coordinator) deleteLocalBranchLocked(executionContext context.Context, branchName string) (execshell.ExecutionResult, error) {
	if validationError := gitrepo.ValidateRefName(branchName); validationError != nil {
		coordinator.recordInvalidArgument(deleteOperationLabelConstant, validationError)
		return execshell.ExecutionResult{}, InvalidArgumentError{Cause: validationError}
	}
	if rootError := coordinator.repositoryManager.EnsureRepositoryRoot(coordinator.configuration.RepositoryPath); rootError != nil {
		return execshell.ExecutionResult{}, rootError
	}

	activeBranch, activeBranchError := coordinator.repositoryManager.CurrentBranch(executionContext, coordinator.configuration.RepositoryPath)
	if activeBranchError != nil {
		return execshell.ExecutionResult{}, activeBranchError
	}
	if len(activeBranch) > 0 && branchName == activeBranch {
		coordinator.recordInvalidArgument(deleteOperationLabelConstant, ErrActiveBranchDeletion)
		return execshell.ExecutionResult{}, InvalidArgumentError{Cause: ErrActiveBranchDeletion}
	}

	deletionResult, executionError := coordinator.executeGit(executionContext, gitBranchSubcommandConstant, gitBranchDeleteFlagConstant, branchName)
	if executionError != nil {
		return execshell.ExecutionResult{}, executionError
	}

	if deletionResult.Successful() {
		coordinator.appendRecord(oplog.SeveritySuccess, fmt.Sprintf(deleteSucceededRecordTemplateConstant, branchName))
	} else {
		coordinator.appendRecord(oplog.SeverityError, fmt.Sprintf(deleteFailedRecordTemplateConstant, branchName, summarizeFailure(deletionResult)))
	}
	return deletionResult, nil
}

func (coordinator *Coordinator) performCheckout(executionContext context.Context, refName string) (execshell.ExecutionResult, error) {
	if strings.HasPrefix(refName, remoteRefPrefixConstant) {
		refSegments := strings.Split(refName, remoteRefSeparatorConstant)
		if len(refSegments) >= remoteRefMinimumSegmentsConstant {
			localBranchName := refSegments[len(refSegments)-1]
			listResult, listError := coordinator.executeGit(executionContext, gitBranchSubcommandConstant, gitBranchListFlagConstant, localBranchName)
			if listError == nil && listResult.Successful() && len(strings.TrimSpace(listResult.StandardOutput)) == 0 {
				return coordinator.executeGit(executionContext, gitCheckoutSubcommandConstant, gitCheckoutCreateBranchFlagConstant, localBranchName, refName)
			}
		}
	}
	return coordinator.executeGit(executionContext, gitCheckoutSubcommandConstant, refName)
}

func (coordinator *Coordinator) runRestart(executionContext context.Context) RestartOutcome {
	if !coordinator.configuration.RestartConfigured() {
		coordinator.appendRecord(oplog.SeverityInfo, fmt.Sprintf(restartSkippedRecordTemplateConstant, restartNotConfiguredReasonConstant))
		return RestartOutcome{Attempted: false, SkippedReason: restartNotConfiguredReasonConstant}
	}

	restartArguments := coordinator.configuration.RestartCommand
	restartCommand := execshell.ShellCommand{
		Name: execshell.CommandName(restartArguments[0]),
		Details: execshell.CommandDetails{
			Arguments: append([]string{}, restartArguments[1:]...),
			Timeout:   coordinator.configuration.CommandTimeout,
		},
	}

	restartResult, executionError := coordinator.executor.Execute(executionContext, restartCommand)
	if executionError != nil {
		coordinator.appendRecord(oplog.SeverityError, fmt.Sprintf(restartFailedRecordTemplateConstant, executionError))
		failedResult := execshell.ExecutionResult{StandardError: executionError.Error(), ExitCode: 1}
		return RestartOutcome{Attempted: true, Result: &failedResult}
	}

	if restartResult.Successful() {
		coordinator.appendRecord(oplog.SeveritySuccess, restartSucceededRecordConstant)
	} else {
		coordinator.appendRecord(oplog.SeverityError, fmt.Sprintf(restartFailedRecordTemplateConstant, summarizeFailure(restartResult)))
	}
	return RestartOutcome{Attempted: true, Result: &restartResult}
}

func (coordinator *Coordinator) executeGit(executionContext context.Context, arguments ...string) (execshell.ExecutionResult, error) {
	return coordinator.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        arguments,
		WorkingDirectory: coordinator.configuration.RepositoryPath,
		Timeout:          coordinator.configuration.CommandTimeout,
	})
}

func (coordinator *Coordinator) appendRecord(severity oplog.Severity, message string) {
	if coordinator.operationLog == nil {
		return
	}
	coordinator.operationLog.Append(severity, message)
}

func (coordinator *Coordinator) recordInvalidArgument(operationLabel string, cause error) {
	coordinator.appendRecord(oplog.SeverityError, fmt.Sprintf(invalidArgumentRecordTemplateConstant, operationLabel, cause))
}

func summarizeFailure(result execshell.ExecutionResult) string {
	trimmedStandardError := strings.TrimSpace(result.StandardError)
	if len(trimmedStandardError) > 0 {
		return trimmedStandardError
	}
	return fmt.Sprintf("exit code %d", result.ExitCode)
}
