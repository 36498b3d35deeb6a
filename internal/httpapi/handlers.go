package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/deployagent/internal/deploy"
	"github.com/temirov/deployagent/internal/execshell"
)

const (
	contentTypeHeaderNameConstant            = "Content-Type"
	jsonContentTypeConstant                  = "application/json"
	htmlContentTypeConstant                  = "text/html; charset=utf-8"
	healthyStatusConstant                    = "healthy"
	healthyMessageConstant                   = "Deployment service is running."
	repositoryPathInvalidMessageConstant     = "Git repository path not configured or not a valid directory."
	repositoryPathDetailsTemplateConstant    = "Path checked: %s"
	requestBodyMissingRefMessageConstant     = "Request body must be JSON and contain a 'ref' field."
	refEmptyMessageConstant                  = "Reference name ('ref') must not be empty."
	requestBodyMissingBranchMessageConstant  = "Request body must be JSON and contain a 'branch' field."
	fetchSucceededMessageConstant            = "Fetch successful."
	fetchFailedMessageConstant               = "Fetch failed."
	checkoutSucceededTemplateConstant        = "Checkout to '%s' successful."
	checkoutFailedTemplateConstant           = "Checkout to '%s' failed."
	pullSucceededMessageConstant             = "Pull successful."
	pullFailedMessageConstant                = "Pull failed."
	deleteSucceededTemplateConstant          = "Branch '%s' deleted."
	deleteFailedTemplateConstant             = "Deletion of branch '%s' failed."
	restartSucceededMessageConstant          = "Main application restart command executed successfully."
	restartFailedMessageConstant             = "Main application restart command failed."
	restartSkippedTemplateConstant           = "Main application restart skipped: %s."
	restartNotConfiguredMessageConstant      = "Main application restart command not configured in deployment service."
	staleScanFailedMessageConstant           = "Stale branch scan failed."
	deleteStaleFailedMessageConstant         = "Stale branch deletion failed."
	currentRefErrorPlaceholderConstant       = "Error fetching current branch/commit"
	branchesErrorPlaceholderConstant         = "Error fetching branches"
	tagsErrorPlaceholderConstant             = "Error fetching tags"
	logErrorPlaceholderConstant              = "Error fetching log"
	logsLimitQueryParameterConstant          = "limit"
	defaultRecentLogLineCountConstant        = 20
	restartCommandDisplaySeparatorConstant   = " "
	responseEncodingFailedMessageConstant    = "response encoding failed"
	requestHandledDebugMessageConstant       = "request handled"
	logFieldRoutePathConstant                = "path"
	logFieldStatusCodeConstant               = "status"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type healthResponse struct {
	Status                string `json:"status"`
	Message               string `json:"message"`
	GitRepositoryPath     string `json:"git_repo_path"`
	MainAppRestartCommand string `json:"main_app_restart_command"`
}

type gitInfoErrors struct {
	BranchCommitError *string `json:"branch_commit_error"`
	BranchesError     *string `json:"branches_error"`
	TagsError         *string `json:"tags_error"`
	LogError          *string `json:"log_error"`
}

type gitInfoResponse struct {
	CurrentBranchOrCommit string        `json:"current_branch_or_commit"`
	Branches              []string      `json:"branches"`
	Tags                  []string      `json:"tags"`
	Log                   []string      `json:"log"`
	Errors                gitInfoErrors `json:"errors"`
}

type commandOutcomeResponse struct {
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	StandardOutput string `json:"stdout"`
	StandardError  string `json:"stderr"`
	ReturnCode     *int   `json:"returncode,omitempty"`
	RestartMessage string `json:"restart_message,omitempty"`
}

type checkoutRequest struct {
	Ref string `json:"ref"`
}

type deleteBranchRequest struct {
	Branch string `json:"branch"`
}

type staleBranchEntry struct {
	Name       string `json:"name"`
	Upstream   string `json:"upstream"`
	AheadCount int    `json:"ahead_count"`
	Verdict    string `json:"verdict"`
}

type staleBranchesResponse struct {
	Branches []staleBranchEntry `json:"branches"`
}

type branchDeletionEntry struct {
	Branch        string `json:"branch"`
	Deleted       bool   `json:"deleted"`
	StandardError string `json:"stderr,omitempty"`
}

type deleteStaleResponse struct {
	DeletedCount int                   `json:"deleted_count"`
	Outcomes     []branchDeletionEntry `json:"outcomes"`
}

type logRecordEntry struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
}

type logsResponse struct {
	Records []logRecordEntry `json:"records"`
}

func (server *Server) handleAdminPage(responseWriter http.ResponseWriter, _ *http.Request) {
	responseWriter.Header().Set(contentTypeHeaderNameConstant, htmlContentTypeConstant)
	_, _ = responseWriter.Write(adminPageContent)
}

func (server *Server) handleHealth(responseWriter http.ResponseWriter, request *http.Request) {
	server.writeJSON(responseWriter, request, http.StatusOK, healthResponse{
		Status:                healthyStatusConstant,
		Message:               healthyMessageConstant,
		GitRepositoryPath:     server.configuration.RepositoryPath,
		MainAppRestartCommand: strings.Join(server.configuration.RestartCommand, restartCommandDisplaySeparatorConstant),
	})
}

func (server *Server) handleGitInfo(responseWriter http.ResponseWriter, request *http.Request) {
	repositoryPath := server.configuration.RepositoryPath
	if rootError := server.inspector.EnsureRepositoryRoot(repositoryPath); rootError != nil {
		server.writeJSON(responseWriter, request, http.StatusInternalServerError, errorResponse{
			Error:   repositoryPathInvalidMessageConstant,
			Details: fmt.Sprintf(repositoryPathDetailsTemplateConstant, repositoryPath),
		})
		return
	}

	infoResponse := gitInfoResponse{Branches: []string{}, Tags: []string{}, Log: []string{}}

	currentRef, currentRefError := server.inspector.CurrentRef(request.Context(), repositoryPath)
	if currentRefError != nil {
		infoResponse.CurrentBranchOrCommit = currentRefErrorPlaceholderConstant
		infoResponse.Errors.BranchCommitError = errorMessagePointer(currentRefError)
	} else {
		infoResponse.CurrentBranchOrCommit = currentRef
	}

	branchNames, branchesError := server.inspector.ListBranches(request.Context(), repositoryPath)
	if branchesError != nil {
		infoResponse.Errors.BranchesError = errorMessagePointer(fmt.Errorf("%s: %w", branchesErrorPlaceholderConstant, branchesError))
	} else {
		infoResponse.Branches = branchNames
	}

	tagNames, tagsError := server.inspector.ListTags(request.Context(), repositoryPath)
	if tagsError != nil {
		infoResponse.Errors.TagsError = errorMessagePointer(fmt.Errorf("%s: %w", tagsErrorPlaceholderConstant, tagsError))
	} else {
		infoResponse.Tags = tagNames
	}

	logLines, logError := server.inspector.RecentLog(request.Context(), repositoryPath, defaultRecentLogLineCountConstant)
	if logError != nil {
		infoResponse.Errors.LogError = errorMessagePointer(fmt.Errorf("%s: %w", logErrorPlaceholderConstant, logError))
	} else {
		infoResponse.Log = logLines
	}

	server.writeJSON(responseWriter, request, http.StatusOK, infoResponse)
}

func (server *Server) handleGitFetch(responseWriter http.ResponseWriter, request *http.Request) {
	fetchResult, executionError := server.coordinator.FetchAll(request.Context())
	if executionError != nil {
		server.writeMutationError(responseWriter, request, executionError)
		return
	}
	server.writeCommandOutcome(responseWriter, request, fetchResult, fetchSucceededMessageConstant, fetchFailedMessageConstant)
}

func (server *Server) handleGitCheckout(responseWriter http.ResponseWriter, request *http.Request) {
	requestPayload := checkoutRequest{}
	if decodeError := json.NewDecoder(request.Body).Decode(&requestPayload); decodeError != nil {
		server.writeJSON(responseWriter, request, http.StatusBadRequest, errorResponse{Error: requestBodyMissingRefMessageConstant})
		return
	}
	if len(strings.TrimSpace(requestPayload.Ref)) == 0 {
		server.writeJSON(responseWriter, request, http.StatusBadRequest, errorResponse{Error: refEmptyMessageConstant})
		return
	}

	mutationResult, executionError := server.coordinator.Checkout(request.Context(), requestPayload.Ref)
	if executionError != nil {
		server.writeMutationError(responseWriter, request, executionError)
		return
	}
	server.writeMutationOutcome(responseWriter, request, mutationResult,
		fmt.Sprintf(checkoutSucceededTemplateConstant, requestPayload.Ref),
		fmt.Sprintf(checkoutFailedTemplateConstant, requestPayload.Ref))
}

func (server *Server) handleGitPull(responseWriter http.ResponseWriter, request *http.Request) {
	mutationResult, executionError := server.coordinator.Pull(request.Context())
	if executionError != nil {
		server.writeMutationError(responseWriter, request, executionError)
		return
	}
	server.writeMutationOutcome(responseWriter, request, mutationResult, pullSucceededMessageConstant, pullFailedMessageConstant)
}

func (server *Server) handleStaleBranches(responseWriter http.ResponseWriter, request *http.Request) {
	if server.scanner == nil {
		server.writeJSON(responseWriter, request, http.StatusInternalServerError, errorResponse{Error: staleScanFailedMessageConstant})
		return
	}

	classifications, scanError := server.scanner.ScanStaleBranches(request.Context(), server.configuration.RepositoryPath)
	if scanError != nil {
		server.writeJSON(responseWriter, request, http.StatusInternalServerError, errorResponse{Error: staleScanFailedMessageConstant, Details: scanError.Error()})
		return
	}

	scanResponse := staleBranchesResponse{Branches: []staleBranchEntry{}}
	for _, classification := range classifications {
		scanResponse.Branches = append(scanResponse.Branches, staleBranchEntry{
			Name:       classification.Branch.Name,
			Upstream:   classification.Branch.UpstreamName,
			AheadCount: classification.Branch.AheadCount,
			Verdict:    string(classification.Verdict),
		})
	}
	server.writeJSON(responseWriter, request, http.StatusOK, scanResponse)
}

func (server *Server) handleDeleteBranch(responseWriter http.ResponseWriter, request *http.Request) {
	requestPayload := deleteBranchRequest{}
	if decodeError := json.NewDecoder(request.Body).Decode(&requestPayload); decodeError != nil {
		server.writeJSON(responseWriter, request, http.StatusBadRequest, errorResponse{Error: requestBodyMissingBranchMessageConstant})
		return
	}
	if len(strings.TrimSpace(requestPayload.Branch)) == 0 {
		server.writeJSON(responseWriter, request, http.StatusBadRequest, errorResponse{Error: requestBodyMissingBranchMessageConstant})
		return
	}

	deletionResult, executionError := server.coordinator.DeleteLocalBranch(request.Context(), requestPayload.Branch)
	if executionError != nil {
		server.writeMutationError(responseWriter, request, executionError)
		return
	}
	server.writeCommandOutcome(responseWriter, request, deletionResult,
		fmt.Sprintf(deleteSucceededTemplateConstant, requestPayload.Branch),
		fmt.Sprintf(deleteFailedTemplateConstant, requestPayload.Branch))
}

func (server *Server) handleDeleteStale(responseWriter http.ResponseWriter, request *http.Request) {
	deletionOutcomes, executionError := server.coordinator.DeleteAllSafe(request.Context())
	if executionError != nil {
		server.writeJSON(responseWriter, request, http.StatusInternalServerError, errorResponse{Error: deleteStaleFailedMessageConstant, Details: executionError.Error()})
		return
	}

	deletionResponse := deleteStaleResponse{Outcomes: []branchDeletionEntry{}}
	for _, deletionOutcome := range deletionOutcomes {
		entrySucceeded := deletionOutcome.Result.Successful()
		if entrySucceeded {
			deletionResponse.DeletedCount++
		}
		deletionResponse.Outcomes = append(deletionResponse.Outcomes, branchDeletionEntry{
			Branch:        deletionOutcome.BranchName,
			Deleted:       entrySucceeded,
			StandardError: strings.TrimSpace(deletionOutcome.Result.StandardError),
		})
	}
	server.writeJSON(responseWriter, request, http.StatusOK, deletionResponse)
}

func (server *Server) handleServiceRestart(responseWriter http.ResponseWriter, request *http.Request) {
	restartOutcome := server.coordinator.RestartMainApplication(request.Context())
	if !restartOutcome.Attempted {
		server.writeJSON(responseWriter, request, http.StatusInternalServerError, errorResponse{Error: restartNotConfiguredMessageConstant})
		return
	}
	server.writeCommandOutcome(responseWriter, request, *restartOutcome.Result, restartSucceededMessageConstant, restartFailedMessageConstant)
}

func (server *Server) handleLogs(responseWriter http.ResponseWriter, request *http.Request) {
	recordLimit := 0
	if limitParameter := request.URL.Query().Get(logsLimitQueryParameterConstant); len(limitParameter) > 0 {
		parsedLimit, parseError := strconv.Atoi(limitParameter)
		if parseError == nil && parsedLimit > 0 {
			recordLimit = parsedLimit
		}
	}

	recordsResponse := logsResponse{Records: []logRecordEntry{}}
	if server.operationLog != nil {
		for _, logRecord := range server.operationLog.Recent(recordLimit) {
			recordsResponse.Records = append(recordsResponse.Records, logRecordEntry{
				Sequence:  logRecord.Sequence,
				Timestamp: logRecord.Timestamp,
				Severity:  string(logRecord.Severity),
				Message:   logRecord.Message,
			})
		}
	}
	server.writeJSON(responseWriter, request, http.StatusOK, recordsResponse)
}

func (server *Server) writeMutationError(responseWriter http.ResponseWriter, request *http.Request, executionError error) {
	invalidArgument := deploy.InvalidArgumentError{}
	if errors.As(executionError, &invalidArgument) {
		server.writeJSON(responseWriter, request, http.StatusBadRequest, errorResponse{Error: invalidArgument.Error()})
		return
	}
	server.writeJSON(responseWriter, request, http.StatusInternalServerError, errorResponse{Error: executionError.Error()})
}

func (server *Server) writeCommandOutcome(responseWriter http.ResponseWriter, request *http.Request, commandResult execshell.ExecutionResult, successMessage string, failureMessage string) {
	if commandResult.Successful() {
		server.writeJSON(responseWriter, request, http.StatusOK, commandOutcomeResponse{
			Message:        successMessage,
			StandardOutput: commandResult.StandardOutput,
			StandardError:  commandResult.StandardError,
		})
		return
	}

	exitCode := commandResult.ExitCode
	server.writeJSON(responseWriter, request, http.StatusInternalServerError, commandOutcomeResponse{
		Error:          failureMessage,
		StandardOutput: commandResult.StandardOutput,
		StandardError:  commandResult.StandardError,
		ReturnCode:     &exitCode,
	})
}

func (server *Server) writeMutationOutcome(responseWriter http.ResponseWriter, request *http.Request, mutationResult deploy.MutationResult, successMessage string, failureMessage string) {
	if !mutationResult.Command.Successful() {
		server.writeCommandOutcome(responseWriter, request, mutationResult.Command, successMessage, failureMessage)
		return
	}

	outcomeResponse := commandOutcomeResponse{
		Message:        successMessage,
		StandardOutput: mutationResult.Command.StandardOutput,
		StandardError:  mutationResult.Command.StandardError,
	}
	if mutationResult.Restart != nil {
		switch {
		case !mutationResult.Restart.Attempted:
			outcomeResponse.RestartMessage = fmt.Sprintf(restartSkippedTemplateConstant, mutationResult.Restart.SkippedReason)
		case mutationResult.Restart.Result != nil && mutationResult.Restart.Result.Successful():
			outcomeResponse.RestartMessage = restartSucceededMessageConstant
		default:
			outcomeResponse.RestartMessage = restartFailedMessageConstant
		}
	}
	server.writeJSON(responseWriter, request, http.StatusOK, outcomeResponse)
}

func (server *Server) writeJSON(responseWriter http.ResponseWriter, request *http.Request, statusCode int, payload any) {
	responseWriter.Header().Set(contentTypeHeaderNameConstant, jsonContentTypeConstant)
	responseWriter.WriteHeader(statusCode)
	if encodeError := json.NewEncoder(responseWriter).Encode(payload); encodeError != nil {
		server.logger.Error(responseEncodingFailedMessageConstant, zap.Error(encodeError))
		return
	}
	server.logger.Debug(requestHandledDebugMessageConstant,
		zap.String(logFieldRoutePathConstant, request.URL.Path),
		zap.Int(logFieldStatusCodeConstant, statusCode))
}

func errorMessagePointer(sourceError error) *string {
	message := sourceError.Error()
	return &message
}
