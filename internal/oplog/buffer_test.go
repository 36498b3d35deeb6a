package oplog_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/deployagent/internal/execshell"
	"github.com/temirov/deployagent/internal/oplog"
)

const (
	testBufferCapacityConstant        = 3
	testAppendedRecordCountConstant   = 5
	testRecentLimitConstant           = 3
	testMessageTemplateConstant       = "operation %d"
	testConcurrentAppenderCountConstant = 8
	testConcurrentAppendCountConstant   = 50
)

type fixedClock struct {
	instant time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.instant
}

func TestRecentReturnsNewestRecordsInChronologicalOrder(testInstance *testing.T) {
	buffer := oplog.NewBuffer(testBufferCapacityConstant * 10)
	for recordIndex := 1; recordIndex <= testAppendedRecordCountConstant; recordIndex++ {
		buffer.Append(oplog.SeverityInfo, fmt.Sprintf(testMessageTemplateConstant, recordIndex))
	}

	recentRecords := buffer.Recent(testRecentLimitConstant)

	require.Len(testInstance, recentRecords, testRecentLimitConstant)
	require.Equal(testInstance, fmt.Sprintf(testMessageTemplateConstant, 3), recentRecords[0].Message)
	require.Equal(testInstance, fmt.Sprintf(testMessageTemplateConstant, 4), recentRecords[1].Message)
	require.Equal(testInstance, fmt.Sprintf(testMessageTemplateConstant, 5), recentRecords[2].Message)
	require.Less(testInstance, recentRecords[0].Sequence, recentRecords[1].Sequence)
	require.Less(testInstance, recentRecords[1].Sequence, recentRecords[2].Sequence)
}

func TestAppendEvictsOldestRecordAtCapacity(testInstance *testing.T) {
	clock := fixedClock{instant: time.Unix(1700000000, 0)}
	buffer := oplog.NewBufferWithClock(testBufferCapacityConstant, clock)

	for recordIndex := 1; recordIndex <= testAppendedRecordCountConstant; recordIndex++ {
		buffer.Append(oplog.SeverityInfo, fmt.Sprintf(testMessageTemplateConstant, recordIndex))
	}

	require.Equal(testInstance, testBufferCapacityConstant, buffer.Len())

	retainedRecords := buffer.Recent(0)
	require.Equal(testInstance, fmt.Sprintf(testMessageTemplateConstant, 3), retainedRecords[0].Message)
	require.Equal(testInstance, uint64(testAppendedRecordCountConstant), retainedRecords[len(retainedRecords)-1].Sequence)
	require.Equal(testInstance, clock.instant, retainedRecords[0].Timestamp)
}

func TestRecentWithOversizedLimitReturnsAllRecords(testInstance *testing.T) {
	buffer := oplog.NewBuffer(testBufferCapacityConstant)
	buffer.Append(oplog.SeveritySuccess, fmt.Sprintf(testMessageTemplateConstant, 1))

	recentRecords := buffer.Recent(testBufferCapacityConstant * 100)

	require.Len(testInstance, recentRecords, 1)
	require.Equal(testInstance, oplog.SeveritySuccess, recentRecords[0].Severity)
}

func TestConcurrentAppendersAssignUniqueSequences(testInstance *testing.T) {
	buffer := oplog.NewBuffer(testConcurrentAppenderCountConstant * testConcurrentAppendCountConstant)

	var appendersGroup sync.WaitGroup
	for appenderIndex := 0; appenderIndex < testConcurrentAppenderCountConstant; appenderIndex++ {
		appendersGroup.Add(1)
		go func() {
			defer appendersGroup.Done()
			for appendIndex := 0; appendIndex < testConcurrentAppendCountConstant; appendIndex++ {
				buffer.Append(oplog.SeverityInfo, fmt.Sprintf(testMessageTemplateConstant, appendIndex))
			}
		}()
	}
	appendersGroup.Wait()

	allRecords := buffer.Recent(0)
	require.Len(testInstance, allRecords, testConcurrentAppenderCountConstant*testConcurrentAppendCountConstant)

	observedSequences := make(map[uint64]struct{}, len(allRecords))
	for _, record := range allRecords {
		_, duplicate := observedSequences[record.Sequence]
		require.False(testInstance, duplicate)
		observedSequences[record.Sequence] = struct{}{}
	}
}

func TestCommandEventRecorderRecordsOutcomes(testInstance *testing.T) {
	buffer := oplog.NewBuffer(testBufferCapacityConstant * 10)
	recorder := oplog.NewCommandEventRecorder(buffer)

	successCommand := execshell.ShellCommand{Name: execshell.CommandGit, Details: execshell.CommandDetails{Arguments: []string{"fetch", "--all", "--prune"}}}
	recorder.CommandStarted(successCommand)
	recorder.CommandCompleted(successCommand, execshell.ExecutionResult{ExitCode: 0})

	failureCommand := execshell.ShellCommand{Name: execshell.CommandGit, Details: execshell.CommandDetails{Arguments: []string{"pull"}}}
	recorder.CommandCompleted(failureCommand, execshell.ExecutionResult{ExitCode: 1, StandardError: "conflict"})

	records := buffer.Recent(0)
	require.Len(testInstance, records, 2)
	require.Equal(testInstance, oplog.SeveritySuccess, records[0].Severity)
	require.Equal(testInstance, oplog.SeverityError, records[1].Severity)
	require.Contains(testInstance, records[1].Message, "exit code 1")
}
