package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexcron/internal/ipc"
)

// fakeDaemon records requests and answers with a canned response.
type fakeDaemon struct {
	requests []ipc.Request
	resp     *ipc.Response
	err      error
}

func (f *fakeDaemon) send(_ context.Context, req ipc.Request) (*ipc.Response, error) {
	f.requests = append(f.requests, req)
	if f.resp == nil {
		return &ipc.Response{Success: true}, f.err
	}
	return f.resp, f.err
}

func execute(t *testing.T, d *fakeDaemon, args ...string) (string, string, error) {
	t.Helper()

	orig := sendRequest
	sendRequest = d.send
	t.Cleanup(func() {
		sendRequest = orig
		resetFlags(rootCmd)
	})

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestCommandStructure(t *testing.T) {
	found := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = true
	}
	for _, name := range []string{"version", "config", "serve", "scheduler"} {
		assert.True(t, found[name], "missing command %s", name)
	}

	sub := map[string]bool{}
	for _, cmd := range schedulerCmd.Commands() {
		sub[cmd.Name()] = true
	}
	for _, name := range []string{"list", "status", "start", "stop", "add", "remove", "pause", "resume", "run-now"} {
		assert.True(t, sub[name], "missing scheduler command %s", name)
	}
}

func TestSchedulerAdd(t *testing.T) {
	next := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	d := &fakeDaemon{resp: &ipc.Response{Success: true, Job: &ipc.JobInfo{
		ID: 4, Name: "backup", Callable: "backup", Schedule: "cron:0 3 * * *", Status: "scheduled", NextRun: &next,
	}}}

	out, _, err := execute(t, d, "scheduler", "add", "--callable", "backup", "--cron", "0 3 * * *", "--timeout", "1m", "--paused")
	require.NoError(t, err)
	require.Len(t, d.requests, 1)

	req := d.requests[0]
	assert.Equal(t, ipc.TypeAdd, req.Type)
	assert.Equal(t, "backup", req.Callable)
	assert.Equal(t, "cron:0 3 * * *", req.Schedule)
	assert.Equal(t, "1m", req.Timeout)
	assert.True(t, req.Paused)

	assert.Contains(t, out, "Job added")
	assert.Contains(t, out, "cron:0 3 * * *")
}

func TestSchedulerAdd_Every(t *testing.T) {
	d := &fakeDaemon{resp: &ipc.Response{Success: true, Job: &ipc.JobInfo{ID: 1}}}

	_, _, err := execute(t, d, "scheduler", "add", "--callable", "ping", "--every", "5m", "--anchor", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	require.Len(t, d.requests, 1)
	assert.Equal(t, "every:5m0s@2026-01-01T00:00:00Z", d.requests[0].Schedule)
}

func TestSchedulerAdd_Invalid(t *testing.T) {
	tests := map[string][]string{
		"no callable":      {"--cron", "* * * * *"},
		"no trigger":       {"--callable", "x"},
		"two triggers":     {"--callable", "x", "--cron", "* * * * *", "--every", "1m"},
		"anchor with cron": {"--callable", "x", "--cron", "* * * * *", "--anchor", "2026-01-01T00:00:00Z"},
		"bad interval":     {"--callable", "x", "--every", "soon"},
		"bad timeout":      {"--callable", "x", "--every", "1m", "--timeout", "forever"},
	}
	for name, flags := range tests {
		t.Run(name, func(t *testing.T) {
			d := &fakeDaemon{}
			_, _, err := execute(t, d, append([]string{"scheduler", "add"}, flags...)...)
			assert.Error(t, err)
			assert.Empty(t, d.requests, "invalid input never reaches the daemon")
		})
	}
}

func TestSchedulerControl(t *testing.T) {
	tests := []struct {
		args []string
		typ  string
		want string
	}{
		{[]string{"pause", "3"}, ipc.TypePause, "Job 3 paused"},
		{[]string{"resume", "3"}, ipc.TypeResume, "Job 3 resumed"},
		{[]string{"run-now", "3"}, ipc.TypeRunNow, "Job 3 triggered"},
		{[]string{"run_now", "3"}, ipc.TypeRunNow, "Job 3 triggered"},
		{[]string{"remove", "3"}, ipc.TypeRemove, "Job 3 removed"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			d := &fakeDaemon{}
			out, _, err := execute(t, d, append([]string{"scheduler"}, tt.args...)...)
			require.NoError(t, err)
			require.Len(t, d.requests, 1)
			assert.Equal(t, tt.typ, d.requests[0].Type)
			assert.Equal(t, uint64(3), d.requests[0].ID)
			assert.Contains(t, out, tt.want)
		})
	}

	d := &fakeDaemon{}
	_, _, err := execute(t, d, "scheduler", "pause", "abc")
	assert.Error(t, err)
	assert.Empty(t, d.requests)
}

func TestSchedulerErrors(t *testing.T) {
	d := &fakeDaemon{
		resp: &ipc.Response{Success: false, Code: ipc.CodeNotFound, Error: "job 9 not found"},
		err:  &ipc.ResponseError{Code: ipc.CodeNotFound, Message: "job 9 not found"},
	}
	_, _, err := execute(t, d, "scheduler", "remove", "9")
	var respErr *ipc.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, ipc.CodeNotFound, respErr.Code)

	d = &fakeDaemon{err: ipc.ErrDaemonNotRunning}
	_, stderr, err := execute(t, d, "scheduler", "list")
	assert.ErrorIs(t, err, ipc.ErrDaemonNotRunning)
	assert.Contains(t, stderr, "nexcron serve")
}

func TestSchedulerListAndStatus(t *testing.T) {
	d := &fakeDaemon{resp: &ipc.Response{Success: true, Jobs: []ipc.JobInfo{
		{ID: 1, Name: "a", Callable: "noop", Schedule: "every:1m0s", Status: "scheduled"},
		{ID: 2, Name: "b", Callable: "noop", Schedule: "cron:0 * * * *", Status: "paused", LastOutcome: "failed: boom", ConsecutiveFailures: 2},
	}}}
	out, _, err := execute(t, d, "scheduler", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "failed: boom")
	assert.Contains(t, out, "Total: 2 jobs")

	d = &fakeDaemon{resp: &ipc.Response{Success: true, Status: &ipc.StatusInfo{
		PID: 42, Running: true, Jobs: map[string]int{"scheduled": 1, "paused": 1}, Callables: []string{"noop"},
	}}}
	out, _, err = execute(t, d, "scheduler", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Scheduler: running")
	assert.Contains(t, out, "Jobs: paused=1 scheduled=1")

	out, _, err = execute(t, d, "scheduler", "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"pid": 42`)
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[workspace]
path = "`+dir+`"

[invokers.shell]
allowed_commands = ["echo"]

[[callables]]
name = "hello"
kind = "shell"
command = "echo"
args = ["hi"]
`), 0o600))

	out, _, err := execute(t, &fakeDaemon{}, "config", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "jobs.yaml"), []byte("jobs: [{name: x}]\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte(`
[workspace]
path = "`+dir+`"

[scheduler]
jobs_file = "jobs.yaml"
`), 0o600))
	_, _, err = execute(t, &fakeDaemon{}, "config", "validate", path)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, &fakeDaemon{}, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "nexcron"))
}
