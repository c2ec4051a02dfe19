package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aatumaykin/nexcron/internal/constants"
	"github.com/aatumaykin/nexcron/internal/ipc"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobs(w io.Writer, list []ipc.JobInfo) {
	if len(list) == 0 {
		fmt.Fprint(w, constants.MsgJobsNotFound)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCALLABLE\tSCHEDULE\tSTATUS\tNEXT RUN\tLAST\tFAILS")
	for _, j := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			j.ID, j.Name, j.Callable, j.Schedule, j.Status,
			formatTime(j.NextRun), dash(j.LastOutcome), j.ConsecutiveFailures)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, constants.MsgJobsTotal, len(list))
}

func printStatus(w io.Writer, st *ipc.StatusInfo) {
	if st == nil {
		return
	}
	state := "stopped"
	if st.Running {
		state = "running"
	}
	fmt.Fprintf(w, constants.MsgSchedulerState, state)
	fmt.Fprintf(w, constants.MsgSchedulerPID, st.PID)
	if st.Error != "" {
		fmt.Fprintf(w, constants.MsgSchedulerError, st.Error)
	}

	statuses := make([]string, 0, len(st.Jobs))
	for s := range st.Jobs {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", s, st.Jobs[s]))
	}
	fmt.Fprintf(w, constants.MsgSchedulerJobs, dash(strings.Join(parts, " ")))
	fmt.Fprintf(w, constants.MsgCallables, dash(strings.Join(st.Callables, ", ")))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
