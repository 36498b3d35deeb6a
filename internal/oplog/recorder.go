package oplog

import (
	"github.com/temirov/deployagent/internal/execshell"
)

// CommandEventRecorder appends a record for every command lifecycle outcome so
// each external invocation leaves an audit entry.
type CommandEventRecorder struct {
	buffer    *Buffer
	formatter execshell.CommandMessageFormatter
}

// NewCommandEventRecorder constructs a recorder appending to the provided buffer.
func NewCommandEventRecorder(buffer *Buffer) *CommandEventRecorder {
	return &CommandEventRecorder{buffer: buffer}
}

// CommandStarted implements execshell.CommandEventObserver. Start events carry
// no outcome and are not recorded; the completion record covers the invocation.
func (recorder *CommandEventRecorder) CommandStarted(execshell.ShellCommand) {}

// CommandCompleted implements execshell.CommandEventObserver by recording the outcome.
func (recorder *CommandEventRecorder) CommandCompleted(command execshell.ShellCommand, result execshell.ExecutionResult) {
	if recorder == nil || recorder.buffer == nil {
		return
	}
	if result.Successful() {
		recorder.buffer.Append(SeveritySuccess, recorder.formatter.BuildSuccessMessage(command))
		return
	}
	recorder.buffer.Append(SeverityError, recorder.formatter.BuildFailureMessage(command, result))
}

// CommandExecutionFailed implements execshell.CommandEventObserver by recording spawn failures.
func (recorder *CommandEventRecorder) CommandExecutionFailed(command execshell.ShellCommand, failure error) {
	if recorder == nil || recorder.buffer == nil {
		return
	}
	recorder.buffer.Append(SeverityError, recorder.formatter.BuildExecutionFailureMessage(command, failure))
}
