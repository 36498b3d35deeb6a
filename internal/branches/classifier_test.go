package branches_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/deployagent/internal/branches"
	"github.com/temirov/deployagent/internal/gitrepo"
	"github.com/temirov/deployagent/internal/oplog"
)

const (
	testRepositoryPathConstant     = "/tmp/managed-repository"
	testActiveBranchConstant       = "main"
	testCleanStaleBranchConstant   = "feature-x"
	testDirtyStaleBranchConstant   = "feature-y"
	testUntrackedBranchConstant    = "scratch"
	testUpstreamRemotePrefixConstant = "origin/"
	testGoneTrackingHintConstant   = "[gone]"
	testLiveTrackingHintConstant   = "[behind 2]"
)

type fakeInspector struct {
	activeBranch       string
	activeBranchError  error
	trackingStatuses   []gitrepo.BranchTrackingStatus
	trackingError      error
	unpushedCounts     map[string]int
	unpushedErrors     map[string]error
	countedBranchNames []string
}

func (inspector *fakeInspector) CurrentBranch(context.Context, string) (string, error) {
	return inspector.activeBranch, inspector.activeBranchError
}

func (inspector *fakeInspector) BranchTrackingStatuses(context.Context, string) ([]gitrepo.BranchTrackingStatus, error) {
	return inspector.trackingStatuses, inspector.trackingError
}

func (inspector *fakeInspector) CountUnpushedCommits(_ context.Context, _ string, branchName string) (int, error) {
	inspector.countedBranchNames = append(inspector.countedBranchNames, branchName)
	if countError, failureScripted := inspector.unpushedErrors[branchName]; failureScripted {
		return 0, countError
	}
	return inspector.unpushedCounts[branchName], nil
}

func trackedStatus(branchName string, trackingHint string) gitrepo.BranchTrackingStatus {
	return gitrepo.BranchTrackingStatus{
		BranchName:   branchName,
		UpstreamName: testUpstreamRemotePrefixConstant + branchName,
		TrackingHint: trackingHint,
	}
}

func untrackedStatus(branchName string) gitrepo.BranchTrackingStatus {
	return gitrepo.BranchTrackingStatus{BranchName: branchName}
}

func newTestClassifier(testInstance *testing.T, inspector *fakeInspector, operationLog branches.OperationLog) *branches.Classifier {
	testInstance.Helper()
	classifier, creationError := branches.NewClassifier(zap.NewNop(), inspector, operationLog)
	require.NoError(testInstance, creationError)
	return classifier
}

func TestNewClassifierRequiresInspector(testInstance *testing.T) {
	_, creationError := branches.NewClassifier(zap.NewNop(), nil, nil)
	require.ErrorIs(testInstance, creationError, branches.ErrInspectorNotConfigured)
}

func TestScanStaleBranchesClassifiesKnownScenario(testInstance *testing.T) {
	inspector := &fakeInspector{
		activeBranch: testActiveBranchConstant,
		trackingStatuses: []gitrepo.BranchTrackingStatus{
			trackedStatus(testCleanStaleBranchConstant, testGoneTrackingHintConstant),
			trackedStatus(testDirtyStaleBranchConstant, testGoneTrackingHintConstant),
			trackedStatus(testActiveBranchConstant, testLiveTrackingHintConstant),
		},
		unpushedCounts: map[string]int{
			testCleanStaleBranchConstant: 0,
			testDirtyStaleBranchConstant: 2,
		},
	}
	classifier := newTestClassifier(testInstance, inspector, nil)

	classifications, scanError := classifier.ScanStaleBranches(context.Background(), testRepositoryPathConstant)

	require.NoError(testInstance, scanError)
	require.Len(testInstance, classifications, 2)

	require.Equal(testInstance, testCleanStaleBranchConstant, classifications[0].Branch.Name)
	require.Equal(testInstance, branches.VerdictSafeToDelete, classifications[0].Verdict)
	require.True(testInstance, classifications[0].Branch.UpstreamGone)

	require.Equal(testInstance, testDirtyStaleBranchConstant, classifications[1].Branch.Name)
	require.Equal(testInstance, branches.VerdictHasLocalChanges, classifications[1].Verdict)
	require.Equal(testInstance, 2, classifications[1].Branch.AheadCount)
}

func TestScanStaleBranchesExcludesLiveAndUntrackedBranches(testInstance *testing.T) {
	inspector := &fakeInspector{
		activeBranch: testActiveBranchConstant,
		trackingStatuses: []gitrepo.BranchTrackingStatus{
			trackedStatus(testActiveBranchConstant, testLiveTrackingHintConstant),
			untrackedStatus(testUntrackedBranchConstant),
		},
	}
	classifier := newTestClassifier(testInstance, inspector, nil)

	classifications, scanError := classifier.ScanStaleBranches(context.Background(), testRepositoryPathConstant)

	require.NoError(testInstance, scanError)
	require.Empty(testInstance, classifications)
	require.Empty(testInstance, inspector.countedBranchNames)
}

func TestScanStaleBranchesGradesActiveGoneBranchActive(testInstance *testing.T) {
	inspector := &fakeInspector{
		activeBranch: testActiveBranchConstant,
		trackingStatuses: []gitrepo.BranchTrackingStatus{
			trackedStatus(testActiveBranchConstant, testGoneTrackingHintConstant),
		},
		unpushedCounts: map[string]int{testActiveBranchConstant: 0},
	}
	classifier := newTestClassifier(testInstance, inspector, nil)

	classifications, scanError := classifier.ScanStaleBranches(context.Background(), testRepositoryPathConstant)

	require.NoError(testInstance, scanError)
	require.Len(testInstance, classifications, 1)
	require.Equal(testInstance, branches.VerdictActive, classifications[0].Verdict)
}

func TestUnresolvableAheadCountNeverGradesSafeToDelete(testInstance *testing.T) {
	inspector := &fakeInspector{
		activeBranch: testActiveBranchConstant,
		trackingStatuses: []gitrepo.BranchTrackingStatus{
			trackedStatus(testCleanStaleBranchConstant, testGoneTrackingHintConstant),
		},
		unpushedErrors: map[string]error{
			testCleanStaleBranchConstant: errors.New("unknown revision"),
		},
	}
	classifier := newTestClassifier(testInstance, inspector, nil)

	classifications, scanError := classifier.ScanStaleBranches(context.Background(), testRepositoryPathConstant)

	require.NoError(testInstance, scanError)
	require.Len(testInstance, classifications, 1)
	require.Equal(testInstance, branches.VerdictHasLocalChanges, classifications[0].Verdict)
}

func TestScanStaleBranchesAppendsAuditRecord(testInstance *testing.T) {
	operationLog := oplog.NewBuffer(10)
	inspector := &fakeInspector{
		activeBranch: testActiveBranchConstant,
		trackingStatuses: []gitrepo.BranchTrackingStatus{
			trackedStatus(testCleanStaleBranchConstant, testGoneTrackingHintConstant),
		},
		unpushedCounts: map[string]int{testCleanStaleBranchConstant: 0},
	}
	classifier := newTestClassifier(testInstance, inspector, operationLog)

	_, scanError := classifier.ScanStaleBranches(context.Background(), testRepositoryPathConstant)

	require.NoError(testInstance, scanError)
	require.Equal(testInstance, 1, operationLog.Len())
	require.Equal(testInstance, oplog.SeverityInfo, operationLog.Recent(1)[0].Severity)
}

func TestScanStaleBranchesRecordsFailures(testInstance *testing.T) {
	operationLog := oplog.NewBuffer(10)
	inspector := &fakeInspector{trackingError: errors.New("inspection failed"), activeBranch: testActiveBranchConstant}
	classifier := newTestClassifier(testInstance, inspector, operationLog)

	_, scanError := classifier.ScanStaleBranches(context.Background(), testRepositoryPathConstant)

	require.Error(testInstance, scanError)
	require.Equal(testInstance, 1, operationLog.Len())
	require.Equal(testInstance, oplog.SeverityError, operationLog.Recent(1)[0].Severity)
}

func TestSafeToDeleteBranchesFiltersVerdicts(testInstance *testing.T) {
	inspector := &fakeInspector{
		activeBranch: testActiveBranchConstant,
		trackingStatuses: []gitrepo.BranchTrackingStatus{
			trackedStatus(testCleanStaleBranchConstant, testGoneTrackingHintConstant),
			trackedStatus(testDirtyStaleBranchConstant, testGoneTrackingHintConstant),
		},
		unpushedCounts: map[string]int{
			testCleanStaleBranchConstant: 0,
			testDirtyStaleBranchConstant: 1,
		},
	}
	classifier := newTestClassifier(testInstance, inspector, nil)

	safeBranchNames, scanError := classifier.SafeToDeleteBranches(context.Background(), testRepositoryPathConstant)

	require.NoError(testInstance, scanError)
	require.Equal(testInstance, []string{testCleanStaleBranchConstant}, safeBranchNames)
}
