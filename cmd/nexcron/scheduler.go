package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexcron/internal/constants"
	"github.com/aatumaykin/nexcron/internal/ipc"
	"github.com/aatumaykin/nexcron/internal/jobfile"
)

var (
	outputJSON bool

	addName     string
	addCallable string
	addCron     string
	addEvery    string
	addAnchor   string
	addAt       string
	addTimeout  string
	addPaused   bool
)

// sendRequest is replaced in tests.
var sendRequest = func(ctx context.Context, req ipc.Request) (*ipc.Response, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	client := ipc.NewClient(cfg.SocketPath())
	client.Timeout = constants.DefaultIPCTimeout
	if req.Type == ipc.TypeStop {
		client.Timeout = constants.DefaultStopTimeout
	}
	return client.Do(ctx, req)
}

var schedulerCmd = &cobra.Command{
	Use:     "scheduler",
	Aliases: []string{"jobs"},
	Short:   "Control the running scheduler",
}

var schedulerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(cmd, ipc.Request{Type: ipc.TypeList})
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), resp.Jobs)
		}
		printJobs(cmd.OutOrStdout(), resp.Jobs)
		return nil
	},
}

var schedulerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and scheduler state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(cmd, ipc.Request{Type: ipc.TypeStatus})
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), resp.Status)
		}
		printStatus(cmd.OutOrStdout(), resp.Status)
		return nil
	},
}

var schedulerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the control loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := call(cmd, ipc.Request{Type: ipc.TypeStart}); err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), constants.MsgSchedulerStarted)
		return nil
	},
}

var schedulerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the control loop; running jobs finish",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := call(cmd, ipc.Request{Type: ipc.TypeStop}); err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), constants.MsgSchedulerStopped)
		return nil
	},
}

var schedulerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Schedule a callable",
	Long: `Schedule a registered callable. Exactly one of --cron, --every or --at
is required.

  nexcron scheduler add --callable backup --cron "0 3 * * *"
  nexcron scheduler add --callable ping --every 5m --anchor 2026-01-01T00:00:00Z
  nexcron scheduler add --callable report --at 2026-12-01T09:00:00+03:00`,
	Args: cobra.NoArgs,
	RunE: runSchedulerAdd,
}

func runSchedulerAdd(cmd *cobra.Command, args []string) error {
	def := jobfile.Definition{
		Name:     addName,
		Callable: addCallable,
		Cron:     addCron,
		Every:    addEvery,
		Anchor:   addAnchor,
		At:       addAt,
		Timeout:  addTimeout,
	}
	if def.Callable == "" {
		return errors.New("--callable is required")
	}
	trig, err := def.Trigger()
	if err != nil {
		return err
	}
	if _, err := def.TimeoutDuration(); err != nil {
		return err
	}

	resp, err := call(cmd, ipc.Request{
		Type:     ipc.TypeAdd,
		Name:     def.Name,
		Callable: def.Callable,
		Schedule: trig.String(),
		Timeout:  def.Timeout,
		Paused:   addPaused,
	})
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), resp.Job)
	}
	fmt.Fprint(cmd.OutOrStdout(), constants.MsgJobAdded)
	printJobs(cmd.OutOrStdout(), []ipc.JobInfo{*resp.Job})
	return nil
}

// controlCmd builds a command acting on one job id.
func controlCmd(use, short, reqType, msg string, aliases ...string) *cobra.Command {
	return &cobra.Command{
		Use:     use + " <job-id>",
		Aliases: aliases,
		Short:   short,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			if _, err := call(cmd, ipc.Request{Type: reqType, ID: id}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), msg, id)
			return nil
		},
	}
}

func call(cmd *cobra.Command, req ipc.Request) (*ipc.Response, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := sendRequest(ctx, req)
	if errors.Is(err, ipc.ErrDaemonNotRunning) {
		fmt.Fprint(cmd.ErrOrStderr(), constants.MsgDaemonNotRunning)
	}
	return resp, err
}

func init() {
	schedulerCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print raw JSON")

	f := schedulerAddCmd.Flags()
	f.StringVar(&addName, "name", "", "Job name (default: callable name)")
	f.StringVar(&addCallable, "callable", "", "Registered callable to run")
	f.StringVar(&addCron, "cron", "", "Five-field cron expression")
	f.StringVar(&addEvery, "every", "", "Fixed interval, e.g. 30s or 1h")
	f.StringVar(&addAnchor, "anchor", "", "RFC3339 time the interval is measured from")
	f.StringVar(&addAt, "at", "", "RFC3339 time of a one-shot run")
	f.StringVar(&addTimeout, "timeout", "", "Per-run deadline, e.g. 30s")
	f.BoolVar(&addPaused, "paused", false, "Add the job paused")

	schedulerCmd.AddCommand(
		schedulerListCmd,
		schedulerStatusCmd,
		schedulerStartCmd,
		schedulerStopCmd,
		schedulerAddCmd,
		controlCmd("remove", "Remove a job", ipc.TypeRemove, constants.MsgJobRemoved),
		controlCmd("pause", "Pause a job", ipc.TypePause, constants.MsgJobPaused),
		controlCmd("resume", "Resume a paused or halted job", ipc.TypeResume, constants.MsgJobResumed),
		controlCmd("run-now", "Run a job immediately", ipc.TypeRunNow, constants.MsgJobTriggered, "run_now"),
	)
}
