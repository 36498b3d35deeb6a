package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/temirov/deployagent/internal/execshell"
)

const (
	gitExecutorMissingMessageConstant        = "git executor not configured"
	repositoryInvalidErrorTemplateConstant   = "repository path %q is not usable: %s"
	repositoryPathMissingReasonConstant      = "path does not exist"
	repositoryPathNotDirectoryReasonConstant = "path is not a directory"
	detachedHeadPrefixConstant               = "(detached) "
	headReferenceNameConstant                = "HEAD"
	gitRevParseSubcommandConstant            = "rev-parse"
	gitAbbrevRefFlagConstant                 = "--abbrev-ref"
	gitShortFlagConstant                     = "--short"
	gitForEachRefSubcommandConstant          = "for-each-ref"
	gitRefnameSortFlagConstant               = "--sort=refname"
	gitBranchNameFormatFlagConstant          = "--format=%(refname:short)"
	gitTrackingFormatFlagConstant            = "--format=%(refname:short)\t%(upstream:short)\t%(upstream:track)"
	gitLocalBranchNamespaceConstant          = "refs/heads"
	gitTagSubcommandConstant                 = "tag"
	gitListFlagConstant                      = "--list"
	gitLogSubcommandConstant                 = "log"
	gitOnelineFlagConstant                   = "--oneline"
	gitDecorateFlagConstant                  = "--decorate"
	gitLogLimitFlagTemplateConstant          = "-n%d"
	gitRevListSubcommandConstant             = "rev-list"
	gitCountFlagConstant                     = "--count"
	gitNotFlagConstant                       = "--not"
	gitRemotesFlagConstant                   = "--remotes"
	upstreamGoneMarkerConstant               = "[gone]"
	trackingFieldSeparatorConstant           = "\t"
	outputLineSeparatorConstant              = "\n"
	trackingFieldCountConstant               = 3
)

// ErrGitExecutorNotConfigured indicates the inspector was constructed without an executor.
var ErrGitExecutorNotConfigured = errors.New(gitExecutorMissingMessageConstant)

// RepositoryInvalidError indicates the managed path is missing or not a repository root.
type RepositoryInvalidError struct {
	Path   string
	Reason string
}

// Error describes why the repository path is unusable.
func (invalidError RepositoryInvalidError) Error() string {
	return fmt.Sprintf(repositoryInvalidErrorTemplateConstant, invalidError.Path, invalidError.Reason)
}

// GitExecutor exposes the subset of shell execution used by repository queries.
type GitExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// BranchTrackingStatus captures one local branch's upstream configuration as
// reported by git's for-each-ref tracking metadata.
type BranchTrackingStatus struct {
	BranchName   string
	UpstreamName string
	TrackingHint string
}

// UpstreamConfigured reports whether the branch ever had a tracking ref.
func (status BranchTrackingStatus) UpstreamConfigured() bool {
	return len(status.UpstreamName) > 0
}

// UpstreamGone reports whether the tracking ref no longer resolves.
func (status BranchTrackingStatus) UpstreamGone() bool {
	return status.UpstreamConfigured() && strings.Contains(strings.ToLower(status.TrackingHint), upstreamGoneMarkerConstant)
}

// RepositoryManager performs read-only git queries against a repository path.
type RepositoryManager struct {
	executor GitExecutor
}

// NewRepositoryManager constructs a RepositoryManager around the provided executor.
func NewRepositoryManager(executor GitExecutor) (*RepositoryManager, error) {
	if executor == nil {
		return nil, ErrGitExecutorNotConfigured
	}
	return &RepositoryManager{executor: executor}, nil
}

// EnsureRepositoryRoot validates the repository path exists as a directory.
// Validity is checked per call so mutations between calls are observed.
func (manager *RepositoryManager) EnsureRepositoryRoot(repositoryPath string) error {
	pathInformation, statError := os.Stat(repositoryPath)
	if statError != nil {
		return RepositoryInvalidError{Path: repositoryPath, Reason: repositoryPathMissingReasonConstant}
	}
	if !pathInformation.IsDir() {
		return RepositoryInvalidError{Path: repositoryPath, Reason: repositoryPathNotDirectoryReasonConstant}
	}
	return nil
}

// CurrentBranch returns the checked-out branch name, or an empty string when
// the repository is in a detached HEAD state.
func (manager *RepositoryManager) CurrentBranch(executionContext context.Context, repositoryPath string) (string, error) {
	branchResult, queryError := manager.runQuery(executionContext, repositoryPath, gitRevParseSubcommandConstant, gitAbbrevRefFlagConstant, headReferenceNameConstant)
	if queryError != nil {
		return "", queryError
	}
	branchName := strings.TrimSpace(branchResult.StandardOutput)
	if branchName == headReferenceNameConstant {
		return "", nil
	}
	return branchName, nil
}

// CurrentRef returns the active branch name, or the short commit identifier
// with a detached-state prefix so callers never mistake one for the other.
func (manager *RepositoryManager) CurrentRef(executionContext context.Context, repositoryPath string) (string, error) {
	branchName, branchError := manager.CurrentBranch(executionContext, repositoryPath)
	if branchError != nil {
		return "", branchError
	}
	if len(branchName) > 0 {
		return branchName, nil
	}

	commitResult, commitError := manager.runQuery(executionContext, repositoryPath, gitRevParseSubcommandConstant, gitShortFlagConstant, headReferenceNameConstant)
	if commitError != nil {
		return "", commitError
	}
	return detachedHeadPrefixConstant + strings.TrimSpace(commitResult.StandardOutput), nil
}

// ListBranches returns all local branch names in deterministic refname order.
func (manager *RepositoryManager) ListBranches(executionContext context.Context, repositoryPath string) ([]string, error) {
	listResult, queryError := manager.runQuery(executionContext, repositoryPath, gitForEachRefSubcommandConstant, gitBranchNameFormatFlagConstant, gitRefnameSortFlagConstant, gitLocalBranchNamespaceConstant)
	if queryError != nil {
		return nil, queryError
	}
	return splitNonEmptyLines(listResult.StandardOutput), nil
}

// ListTags returns all tag names in git's sorted list order.
func (manager *RepositoryManager) ListTags(executionContext context.Context, repositoryPath string) ([]string, error) {
	listResult, queryError := manager.runQuery(executionContext, repositoryPath, gitTagSubcommandConstant, gitListFlagConstant)
	if queryError != nil {
		return nil, queryError
	}
	return splitNonEmptyLines(listResult.StandardOutput), nil
}

// RecentLog returns up to limit commit summaries, newest first.
func (manager *RepositoryManager) RecentLog(executionContext context.Context, repositoryPath string, limit int) ([]string, error) {
	logResult, queryError := manager.runQuery(executionContext, repositoryPath, gitLogSubcommandConstant, gitOnelineFlagConstant, gitDecorateFlagConstant, fmt.Sprintf(gitLogLimitFlagTemplateConstant, limit))
	if queryError != nil {
		return nil, queryError
	}
	return splitNonEmptyLines(logResult.StandardOutput), nil
}

// BranchTrackingStatuses reports upstream tracking metadata for every local branch.
func (manager *RepositoryManager) BranchTrackingStatuses(executionContext context.Context, repositoryPath string) ([]BranchTrackingStatus, error) {
	trackingResult, queryError := manager.runQuery(executionContext, repositoryPath, gitForEachRefSubcommandConstant, gitTrackingFormatFlagConstant, gitRefnameSortFlagConstant, gitLocalBranchNamespaceConstant)
	if queryError != nil {
		return nil, queryError
	}

	trackingStatuses := []BranchTrackingStatus{}
	for _, trackingLine := range splitNonEmptyLines(trackingResult.StandardOutput) {
		trackingFields := strings.SplitN(trackingLine, trackingFieldSeparatorConstant, trackingFieldCountConstant)
		trackingStatus := BranchTrackingStatus{BranchName: strings.TrimSpace(trackingFields[0])}
		if len(trackingFields) > 1 {
			trackingStatus.UpstreamName = strings.TrimSpace(trackingFields[1])
		}
		if len(trackingFields) > 2 {
			trackingStatus.TrackingHint = strings.TrimSpace(trackingFields[2])
		}
		if len(trackingStatus.BranchName) > 0 {
			trackingStatuses = append(trackingStatuses, trackingStatus)
		}
	}
	return trackingStatuses, nil
}

// CountUnpushedCommits counts commits on the branch that are not reachable
// from any remote-tracking ref. Pruned upstreams therefore still yield an
// answer: zero means every local commit exists on some remote.
func (manager *RepositoryManager) CountUnpushedCommits(executionContext context.Context, repositoryPath string, branchName string) (int, error) {
	if validationError := ValidateRefName(branchName); validationError != nil {
		return 0, validationError
	}

	countResult, queryError := manager.runQuery(executionContext, repositoryPath, gitRevListSubcommandConstant, gitCountFlagConstant, branchName, gitNotFlagConstant, gitRemotesFlagConstant)
	if queryError != nil {
		return 0, queryError
	}

	unpushedCount, parseError := strconv.Atoi(strings.TrimSpace(countResult.StandardOutput))
	if parseError != nil {
		return 0, parseError
	}
	return unpushedCount, nil
}

func (manager *RepositoryManager) runQuery(executionContext context.Context, repositoryPath string, arguments ...string) (execshell.ExecutionResult, error) {
	if rootError := manager.EnsureRepositoryRoot(repositoryPath); rootError != nil {
		return execshell.ExecutionResult{}, rootError
	}

	queryResult, executionError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        arguments,
		WorkingDirectory: repositoryPath,
	})
	if executionError != nil {
		return execshell.ExecutionResult{}, executionError
	}
	if !queryResult.Successful() {
		return execshell.ExecutionResult{}, execshell.CommandFailedError{
			Command: execshell.ShellCommand{Name: execshell.CommandGit, Details: execshell.CommandDetails{Arguments: arguments, WorkingDirectory: repositoryPath}},
			Result:  queryResult,
		}
	}
	return queryResult, nil
}

func splitNonEmptyLines(output string) []string {
	lines := []string{}
	for _, candidateLine := range strings.Split(output, outputLineSeparatorConstant) {
		trimmedLine := strings.TrimRight(candidateLine, "\r")
		if len(strings.TrimSpace(trimmedLine)) == 0 {
			continue
		}
		lines = append(lines, trimmedLine)
	}
	return lines
}
