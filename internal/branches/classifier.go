package branches

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/deployagent/internal/gitrepo"
	"github.com/temirov/deployagent/internal/oplog"
)

const (
	inspectorMissingMessageConstant      = "repository inspector not configured"
	verdictSafeToDeleteStringConstant    = "safe_to_delete"
	verdictHasLocalChangesStringConstant = "has_local_changes"
	verdictActiveStringConstant          = "active"
	scanCompletedRecordTemplateConstant  = "Stale branch scan found %d candidate branch(es) in %s"
	scanFailedRecordTemplateConstant     = "Stale branch scan failed in %s: %s"
	aheadCountUnavailableMessageConstant = "ahead count unavailable; classifying conservatively"
	logFieldBranchConstant               = "branch"
	logFieldRepositoryConstant           = "repository"
	logFieldVerdictConstant              = "verdict"
	branchClassifiedDebugMessageConstant = "stale branch classified"
)

// ErrInspectorNotConfigured indicates the classifier was constructed without an inspector.
var ErrInspectorNotConfigured = errors.New(inspectorMissingMessageConstant)

// Verdict grades a stale branch's deletion safety.
type Verdict string

// Supported verdicts.
const (
	// VerdictSafeToDelete marks a branch whose upstream is gone with no unpushed commits.
	VerdictSafeToDelete Verdict = Verdict(verdictSafeToDeleteStringConstant)
	// VerdictHasLocalChanges marks a branch whose upstream is gone but carries unpushed commits.
	VerdictHasLocalChanges Verdict = Verdict(verdictHasLocalChangesStringConstant)
	// VerdictActive marks the checked-out branch, which is never a deletion candidate.
	VerdictActive Verdict = Verdict(verdictActiveStringConstant)
)

// BranchRef describes one local branch's reconciliation state.
type BranchRef struct {
	Name         string
	UpstreamName string
	AheadCount   int
	UpstreamGone bool
}

// Classification pairs a branch with its verdict.
type Classification struct {
	Branch  BranchRef
	Verdict Verdict
}

// RepositoryInspector exposes the read-only queries the classifier composes.
type RepositoryInspector interface {
	CurrentBranch(executionContext context.Context, repositoryPath string) (string, error)
	BranchTrackingStatuses(executionContext context.Context, repositoryPath string) ([]gitrepo.BranchTrackingStatus, error)
	CountUnpushedCommits(executionContext context.Context, repositoryPath string, branchName string) (int, error)
}

// OperationLog records scan outcomes for the audit trail.
type OperationLog interface {
	Append(severity oplog.Severity, message string) oplog.Record
}

// Classifier computes stale-branch verdicts from inspector queries.
type Classifier struct {
	logger       *zap.Logger
	inspector    RepositoryInspector
	operationLog OperationLog
}

// NewClassifier constructs a Classifier from the provided dependencies. The
// operation log is optional; a nil log disables audit records.
func NewClassifier(logger *zap.Logger, inspector RepositoryInspector, operationLog OperationLog) (*Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if inspector == nil {
		return nil, ErrInspectorNotConfigured
	}
	return &Classifier{logger: logger, inspector: inspector, operationLog: operationLog}, nil
}

// ScanStaleBranches classifies every local branch whose upstream tracking ref
// has disappeared. Branches with a live upstream, or that never had one, carry
// no reconciliation signal and are excluded entirely. The checked-out branch
// is reported with VerdictActive when its own upstream is gone.
func (classifier *Classifier) ScanStaleBranches(executionContext context.Context, repositoryPath string) ([]Classification, error) {
	activeBranch, activeBranchError := classifier.inspector.CurrentBranch(executionContext, repositoryPath)
	if activeBranchError != nil {
		classifier.recordScanFailure(repositoryPath, activeBranchError)
		return nil, activeBranchError
	}

	trackingStatuses, trackingError := classifier.inspector.BranchTrackingStatuses(executionContext, repositoryPath)
	if trackingError != nil {
		classifier.recordScanFailure(repositoryPath, trackingError)
		return nil, trackingError
	}

	classifications := []Classification{}
	for _, trackingStatus := range trackingStatuses {
		if !trackingStatus.UpstreamGone() {
			continue
		}

		classifiedBranch := classifier.classifyGoneBranch(executionContext, repositoryPath, trackingStatus, activeBranch)
		classifications = append(classifications, classifiedBranch)

		classifier.logger.Debug(
			branchClassifiedDebugMessageConstant,
			zap.String(logFieldRepositoryConstant, repositoryPath),
			zap.String(logFieldBranchConstant, classifiedBranch.Branch.Name),
			zap.String(logFieldVerdictConstant, string(classifiedBranch.Verdict)),
		)
	}

	if classifier.operationLog != nil {
		classifier.operationLog.Append(oplog.SeverityInfo, fmt.Sprintf(scanCompletedRecordTemplateConstant, len(classifications), repositoryPath))
	}
	return classifications, nil
}

// SafeToDeleteBranches returns the names of branches graded VerdictSafeToDelete.
func (classifier *Classifier) SafeToDeleteBranches(executionContext context.Context, repositoryPath string) ([]string, error) {
	classifications, scanError := classifier.ScanStaleBranches(executionContext, repositoryPath)
	if scanError != nil {
		return nil, scanError
	}

	safeBranchNames := []string{}
	for _, classification := range classifications {
		if classification.Verdict == VerdictSafeToDelete {
			safeBranchNames = append(safeBranchNames, classification.Branch.Name)
		}
	}
	return safeBranchNames, nil
}

func (classifier *Classifier) classifyGoneBranch(executionContext context.Context, repositoryPath string, trackingStatus gitrepo.BranchTrackingStatus, activeBranch string) Classification {
	classifiedBranch := BranchRef{
		Name:         trackingStatus.BranchName,
		UpstreamName: trackingStatus.UpstreamName,
		UpstreamGone: true,
	}

	aheadCount, aheadCountError := classifier.inspector.CountUnpushedCommits(executionContext, repositoryPath, trackingStatus.BranchName)
	if aheadCountError == nil {
		classifiedBranch.AheadCount = aheadCount
	}

	if len(activeBranch) > 0 && trackingStatus.BranchName == activeBranch {
		return Classification{Branch: classifiedBranch, Verdict: VerdictActive}
	}

	// An unresolvable ahead count must never grade a branch safe to delete.
	if aheadCountError != nil {
		classifier.logger.Warn(
			aheadCountUnavailableMessageConstant,
			zap.String(logFieldRepositoryConstant, repositoryPath),
			zap.String(logFieldBranchConstant, trackingStatus.BranchName),
			zap.Error(aheadCountError),
		)
		return Classification{Branch: classifiedBranch, Verdict: VerdictHasLocalChanges}
	}

	if aheadCount == 0 {
		return Classification{Branch: classifiedBranch, Verdict: VerdictSafeToDelete}
	}
	return Classification{Branch: classifiedBranch, Verdict: VerdictHasLocalChanges}
}

func (classifier *Classifier) recordScanFailure(repositoryPath string, scanError error) {
	if classifier.operationLog == nil {
		return
	}
	classifier.operationLog.Append(oplog.SeverityError, fmt.Sprintf(scanFailedRecordTemplateConstant, repositoryPath, scanError))
}
