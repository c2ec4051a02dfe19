package constants

import (
	"fmt"
	"strings"
	"testing"
)

func TestMessagesEndWithNewline(t *testing.T) {
	msgs := map[string]string{
		"MsgJobAdded":         MsgJobAdded,
		"MsgJobRemoved":       MsgJobRemoved,
		"MsgJobPaused":        MsgJobPaused,
		"MsgJobResumed":       MsgJobResumed,
		"MsgJobTriggered":     MsgJobTriggered,
		"MsgJobsNotFound":     MsgJobsNotFound,
		"MsgJobsTotal":        MsgJobsTotal,
		"MsgSchedulerStarted": MsgSchedulerStarted,
		"MsgSchedulerStopped": MsgSchedulerStopped,
		"MsgErrorFormat":      MsgErrorFormat,
		"MsgDaemonNotRunning": MsgDaemonNotRunning,
		"MsgErrorInvalidID":   MsgErrorInvalidID,
	}

	for name, msg := range msgs {
		t.Run(name, func(t *testing.T) {
			if !strings.HasSuffix(msg, "\n") {
				t.Errorf("%s should end with a newline: %q", name, msg)
			}
		})
	}
}

func TestJobMessageFormatting(t *testing.T) {
	got := fmt.Sprintf(MsgJobRemoved, 7)
	if !strings.Contains(got, "Job 7 removed") {
		t.Errorf("unexpected message: %q", got)
	}
	got = fmt.Sprintf(MsgErrorInvalidID, "abc")
	if !strings.Contains(got, `"abc"`) {
		t.Errorf("unexpected message: %q", got)
	}
}
