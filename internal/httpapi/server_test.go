package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/deployagent/internal/branches"
	"github.com/temirov/deployagent/internal/deploy"
	"github.com/temirov/deployagent/internal/execshell"
	"github.com/temirov/deployagent/internal/gitrepo"
	"github.com/temirov/deployagent/internal/httpapi"
	"github.com/temirov/deployagent/internal/oplog"
)

const (
	testRepositoryPathConstant   = "/srv/app/repo"
	testListenAddressConstant    = "127.0.0.1:0"
	testCurrentBranchConstant    = "main"
	testStaleBranchNameConstant  = "feature-x"
	testLogRecordMessageConstant = "Pulled latest changes"
)

type fakeInspector struct {
	rootError     error
	currentRef    string
	branchNames   []string
	tagNames      []string
	logLines      []string
	tagsQueryFail error
}

func (inspector *fakeInspector) EnsureRepositoryRoot(string) error {
	return inspector.rootError
}

func (inspector *fakeInspector) CurrentRef(context.Context, string) (string, error) {
	return inspector.currentRef, nil
}

func (inspector *fakeInspector) ListBranches(context.Context, string) ([]string, error) {
	return inspector.branchNames, nil
}

func (inspector *fakeInspector) ListTags(context.Context, string) ([]string, error) {
	return inspector.tagNames, inspector.tagsQueryFail
}

func (inspector *fakeInspector) RecentLog(context.Context, string, int) ([]string, error) {
	return inspector.logLines, nil
}

type fakeCoordinator struct {
	fetchResult      execshell.ExecutionResult
	checkoutResult   deploy.MutationResult
	checkoutError    error
	recordedRefNames []string
	pullResult       deploy.MutationResult
	deletionOutcomes []deploy.BranchDeletionOutcome
	restartOutcome   deploy.RestartOutcome
}

func (coordinator *fakeCoordinator) FetchAll(context.Context) (execshell.ExecutionResult, error) {
	return coordinator.fetchResult, nil
}

func (coordinator *fakeCoordinator) Checkout(_ context.Context, refName string) (deploy.MutationResult, error) {
	coordinator.recordedRefNames = append(coordinator.recordedRefNames, refName)
	return coordinator.checkoutResult, coordinator.checkoutError
}

func (coordinator *fakeCoordinator) Pull(context.Context) (deploy.MutationResult, error) {
	return coordinator.pullResult, nil
}

func (coordinator *fakeCoordinator) DeleteLocalBranch(context.Context, string) (execshell.ExecutionResult, error) {
	return execshell.ExecutionResult{ExitCode: 0}, nil
}

func (coordinator *fakeCoordinator) DeleteAllSafe(context.Context) ([]deploy.BranchDeletionOutcome, error) {
	return coordinator.deletionOutcomes, nil
}

func (coordinator *fakeCoordinator) RestartMainApplication(context.Context) deploy.RestartOutcome {
	return coordinator.restartOutcome
}

type fakeScanner struct {
	classifications []branches.Classification
	scanError       error
}

func (scanner *fakeScanner) ScanStaleBranches(context.Context, string) ([]branches.Classification, error) {
	return scanner.classifications, scanner.scanError
}

func newTestServer(testInstance *testing.T, inspector httpapi.RepositoryInspector, coordinator httpapi.MutationCoordinator, scanner httpapi.StaleBranchScanner, operationLog httpapi.OperationLogReader) *httpapi.Server {
	testInstance.Helper()

	server, creationError := httpapi.NewServer(httpapi.Dependencies{
		Logger:       zap.NewNop(),
		Inspector:    inspector,
		Coordinator:  coordinator,
		Scanner:      scanner,
		OperationLog: operationLog,
	}, httpapi.Configuration{
		ListenAddress:  testListenAddressConstant,
		RepositoryPath: testRepositoryPathConstant,
		RestartCommand: []string{"systemctl", "restart", "mainapp.service"},
	})
	require.NoError(testInstance, creationError)
	return server
}

func performRequest(server *httpapi.Server, method string, target string, body string) *httptest.ResponseRecorder {
	var request *http.Request
	if len(body) > 0 {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		request = httptest.NewRequest(method, target, nil)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(testInstance *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	testInstance.Helper()
	decodedBody := map[string]any{}
	require.NoError(testInstance, json.Unmarshal(recorder.Body.Bytes(), &decodedBody))
	return decodedBody
}

func TestNewServerValidatesDependencies(testInstance *testing.T) {
	_, missingLoggerError := httpapi.NewServer(httpapi.Dependencies{Inspector: &fakeInspector{}, Coordinator: &fakeCoordinator{}}, httpapi.Configuration{})
	require.ErrorIs(testInstance, missingLoggerError, httpapi.ErrLoggerNotConfigured)

	_, missingInspectorError := httpapi.NewServer(httpapi.Dependencies{Logger: zap.NewNop(), Coordinator: &fakeCoordinator{}}, httpapi.Configuration{})
	require.ErrorIs(testInstance, missingInspectorError, httpapi.ErrInspectorNotConfigured)

	_, missingCoordinatorError := httpapi.NewServer(httpapi.Dependencies{Logger: zap.NewNop(), Inspector: &fakeInspector{}}, httpapi.Configuration{})
	require.ErrorIs(testInstance, missingCoordinatorError, httpapi.ErrCoordinatorNotConfigured)
}

func TestHealthEndpointReportsConfiguration(testInstance *testing.T) {
	server := newTestServer(testInstance, &fakeInspector{}, &fakeCoordinator{}, nil, nil)

	recorder := performRequest(server, http.MethodGet, "/health", "")

	require.Equal(testInstance, http.StatusOK, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	require.Equal(testInstance, "healthy", responseBody["status"])
	require.Equal(testInstance, testRepositoryPathConstant, responseBody["git_repo_path"])
	require.Equal(testInstance, "systemctl restart mainapp.service", responseBody["main_app_restart_command"])
}

func TestGitInfoAggregatesQueries(testInstance *testing.T) {
	inspector := &fakeInspector{
		currentRef:  testCurrentBranchConstant,
		branchNames: []string{testCurrentBranchConstant, testStaleBranchNameConstant},
		tagNames:    []string{"v1.0.0"},
		logLines:    []string{"abc1234 (HEAD -> main) latest change"},
	}
	server := newTestServer(testInstance, inspector, &fakeCoordinator{}, nil, nil)

	recorder := performRequest(server, http.MethodGet, "/git/info", "")

	require.Equal(testInstance, http.StatusOK, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	require.Equal(testInstance, testCurrentBranchConstant, responseBody["current_branch_or_commit"])
	require.Len(testInstance, responseBody["branches"], 2)
	require.Len(testInstance, responseBody["tags"], 1)
	require.Len(testInstance, responseBody["log"], 1)
}

func TestGitInfoReportsPartialFailures(testInstance *testing.T) {
	inspector := &fakeInspector{
		currentRef:    testCurrentBranchConstant,
		branchNames:   []string{testCurrentBranchConstant},
		tagsQueryFail: errors.New("tag listing failed"),
	}
	server := newTestServer(testInstance, inspector, &fakeCoordinator{}, nil, nil)

	recorder := performRequest(server, http.MethodGet, "/git/info", "")

	require.Equal(testInstance, http.StatusOK, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	queryErrors, isMap := responseBody["errors"].(map[string]any)
	require.True(testInstance, isMap)
	require.NotNil(testInstance, queryErrors["tags_error"])
	require.Nil(testInstance, queryErrors["branches_error"])
}

func TestGitInfoRejectsInvalidRepositoryRoot(testInstance *testing.T) {
	inspector := &fakeInspector{rootError: gitrepo.RepositoryInvalidError{Path: testRepositoryPathConstant, Reason: "not a directory"}}
	server := newTestServer(testInstance, inspector, &fakeCoordinator{}, nil, nil)

	recorder := performRequest(server, http.MethodGet, "/git/info", "")

	require.Equal(testInstance, http.StatusInternalServerError, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	require.Contains(testInstance, responseBody["error"], "not configured or not a valid directory")
}

func TestCheckoutRejectsMissingRefWithoutCallingCoordinator(testInstance *testing.T) {
	coordinator := &fakeCoordinator{}
	server := newTestServer(testInstance, &fakeInspector{}, coordinator, nil, nil)

	missingBodyRecorder := performRequest(server, http.MethodPost, "/git/checkout", "")
	require.Equal(testInstance, http.StatusBadRequest, missingBodyRecorder.Code)

	emptyRefRecorder := performRequest(server, http.MethodPost, "/git/checkout", `{"ref":"  "}`)
	require.Equal(testInstance, http.StatusBadRequest, emptyRefRecorder.Code)

	require.Empty(testInstance, coordinator.recordedRefNames)
}

func TestCheckoutMapsInvalidArgumentToBadRequest(testInstance *testing.T) {
	coordinator := &fakeCoordinator{
		checkoutError: deploy.InvalidArgumentError{Cause: errors.New("ref name contains unsupported characters")},
	}
	server := newTestServer(testInstance, &fakeInspector{}, coordinator, nil, nil)

	recorder := performRequest(server, http.MethodPost, "/git/checkout", `{"ref":"bad..ref"}`)

	require.Equal(testInstance, http.StatusBadRequest, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	require.Contains(testInstance, responseBody["error"], "unsupported characters")
}

func TestCheckoutReportsRestartOutcome(testInstance *testing.T) {
	restartResult := execshell.ExecutionResult{ExitCode: 0}
	coordinator := &fakeCoordinator{
		checkoutResult: deploy.MutationResult{
			Command: execshell.ExecutionResult{ExitCode: 0, StandardOutput: "Switched to branch 'feature-x'"},
			Restart: &deploy.RestartOutcome{Attempted: true, Result: &restartResult},
		},
	}
	server := newTestServer(testInstance, &fakeInspector{}, coordinator, nil, nil)

	recorder := performRequest(server, http.MethodPost, "/git/checkout", `{"ref":"feature-x"}`)

	require.Equal(testInstance, http.StatusOK, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	require.Contains(testInstance, responseBody["message"], "feature-x")
	require.Contains(testInstance, responseBody["restart_message"], "restart command executed")
	require.Equal(testInstance, []string{"feature-x"}, coordinator.recordedRefNames)
}

func TestCheckoutReportsSkippedRestart(testInstance *testing.T) {
	coordinator := &fakeCoordinator{
		checkoutResult: deploy.MutationResult{
			Command: execshell.ExecutionResult{ExitCode: 0, StandardOutput: "Switched to branch 'feature-x'"},
			Restart: &deploy.RestartOutcome{Attempted: false, SkippedReason: "restart command not configured"},
		},
	}
	server := newTestServer(testInstance, &fakeInspector{}, coordinator, nil, nil)

	recorder := performRequest(server, http.MethodPost, "/git/checkout", `{"ref":"feature-x"}`)

	require.Equal(testInstance, http.StatusOK, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	require.Contains(testInstance, responseBody["restart_message"], "restart skipped")
	require.Contains(testInstance, responseBody["restart_message"], "restart command not configured")
	require.NotContains(testInstance, responseBody["restart_message"], "failed")
}

func TestFetchFailureCarriesReturnCode(testInstance *testing.T) {
	coordinator := &fakeCoordinator{
		fetchResult: execshell.ExecutionResult{ExitCode: 128, StandardError: "fatal: unable to access remote"},
	}
	server := newTestServer(testInstance, &fakeInspector{}, coordinator, nil, nil)

	recorder := performRequest(server, http.MethodPost, "/git/fetch", "")

	require.Equal(testInstance, http.StatusInternalServerError, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	require.Equal(testInstance, "Fetch failed.", responseBody["error"])
	require.Equal(testInstance, float64(128), responseBody["returncode"])
}

func TestStaleBranchesEndpointReportsVerdicts(testInstance *testing.T) {
	scanner := &fakeScanner{
		classifications: []branches.Classification{
			{
				Branch:  branches.BranchRef{Name: testStaleBranchNameConstant, UpstreamName: "origin/feature-x", AheadCount: 0, UpstreamGone: true},
				Verdict: branches.VerdictSafeToDelete,
			},
			{
				Branch:  branches.BranchRef{Name: "feature-y", UpstreamName: "origin/feature-y", AheadCount: 2, UpstreamGone: true},
				Verdict: branches.VerdictHasLocalChanges,
			},
		},
	}
	server := newTestServer(testInstance, &fakeInspector{}, &fakeCoordinator{}, scanner, nil)

	recorder := performRequest(server, http.MethodGet, "/git/branches/stale", "")

	require.Equal(testInstance, http.StatusOK, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	reportedBranches, isSlice := responseBody["branches"].([]any)
	require.True(testInstance, isSlice)
	require.Len(testInstance, reportedBranches, 2)
	firstEntry, isEntryMap := reportedBranches[0].(map[string]any)
	require.True(testInstance, isEntryMap)
	require.Equal(testInstance, string(branches.VerdictSafeToDelete), firstEntry["verdict"])
}

func TestDeleteStaleEndpointCountsDeletions(testInstance *testing.T) {
	coordinator := &fakeCoordinator{
		deletionOutcomes: []deploy.BranchDeletionOutcome{
			{BranchName: testStaleBranchNameConstant, Result: execshell.ExecutionResult{ExitCode: 0}},
			{BranchName: "feature-y", Result: execshell.ExecutionResult{ExitCode: 1, StandardError: "not fully merged"}},
		},
	}
	server := newTestServer(testInstance, &fakeInspector{}, coordinator, nil, nil)

	recorder := performRequest(server, http.MethodPost, "/git/branches/delete-stale", "")

	require.Equal(testInstance, http.StatusOK, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	require.Equal(testInstance, float64(1), responseBody["deleted_count"])
	require.Len(testInstance, responseBody["outcomes"], 2)
}

func TestServiceRestartRequiresConfiguration(testInstance *testing.T) {
	coordinator := &fakeCoordinator{
		restartOutcome: deploy.RestartOutcome{Attempted: false, SkippedReason: "restart command not configured"},
	}
	server := newTestServer(testInstance, &fakeInspector{}, coordinator, nil, nil)

	recorder := performRequest(server, http.MethodPost, "/service/restart", "")

	require.Equal(testInstance, http.StatusInternalServerError, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	require.Contains(testInstance, responseBody["error"], "not configured")
}

func TestLogsEndpointHonorsLimit(testInstance *testing.T) {
	operationLog := oplog.NewBuffer(10)
	operationLog.Append(oplog.SeverityInfo, "first record")
	operationLog.Append(oplog.SeveritySuccess, testLogRecordMessageConstant)
	server := newTestServer(testInstance, &fakeInspector{}, &fakeCoordinator{}, nil, operationLog)

	recorder := performRequest(server, http.MethodGet, "/logs?limit=1", "")

	require.Equal(testInstance, http.StatusOK, recorder.Code)
	responseBody := decodeBody(testInstance, recorder)
	logRecords, isSlice := responseBody["records"].([]any)
	require.True(testInstance, isSlice)
	require.Len(testInstance, logRecords, 1)
	lastRecord, isRecordMap := logRecords[0].(map[string]any)
	require.True(testInstance, isRecordMap)
	require.Equal(testInstance, testLogRecordMessageConstant, lastRecord["message"])
}

func TestAdminPageServesEmbeddedInterface(testInstance *testing.T) {
	server := newTestServer(testInstance, &fakeInspector{}, &fakeCoordinator{}, nil, nil)

	recorder := performRequest(server, http.MethodGet, "/", "")

	require.Equal(testInstance, http.StatusOK, recorder.Code)
	require.Contains(testInstance, recorder.Header().Get("Content-Type"), "text/html")
	require.Contains(testInstance, recorder.Body.String(), "Deployment Agent")
}
