package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/capstan/capstan/internal/engine"
	"github.com/capstan/capstan/pkg/checks"
	"github.com/capstan/capstan/pkg/config"
	"github.com/capstan/capstan/pkg/hooks"
	"github.com/capstan/capstan/pkg/logger"
	"github.com/capstan/capstan/pkg/notifier"
	"github.com/capstan/capstan/pkg/state"
	"github.com/capstan/capstan/pkg/task"
	"github.com/capstan/capstan/pkg/tasks"
	"github.com/capstan/capstan/pkg/types"
)

func newDeployCmd() *cobra.Command {
	var stage string
	var on []string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a new release",
		Long:  `Create a new timestamped release on each connection and point the current symlink at it, running any configured before/after hooks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskCommand("deploy", on, stage)
		},
	}

	cmd.Flags().StringVarP(&stage, "stage", "s", "", "deployment stage")
	cmd.Flags().StringSliceVar(&on, "on", nil, "connections to target (default: all configured)")

	return cmd
}

func newRollbackCmd() *cobra.Command {
	var stage string
	var on []string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back to the previous release",
		Long:  `Repoint the current symlink at the previous release on each connection.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskCommand("rollback", on, stage)
		},
	}

	cmd.Flags().StringVarP(&stage, "stage", "s", "", "deployment stage")
	cmd.Flags().StringSliceVar(&on, "on", nil, "connections to target (default: all configured)")

	return cmd
}

func newCheckCmd() *cobra.Command {
	var on []string
	var binaries []string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify connection requirements",
		Long:  `Probe each connection for required executables. A connection that fails a probe is reported and skipped without aborting the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(on, binaries)
		},
	}

	cmd.Flags().StringSliceVar(&on, "on", nil, "connections to target (default: all configured)")
	cmd.Flags().StringSliceVarP(&binaries, "binary", "b", []string{"git", "tar", "rsync"}, "executables that must exist on the remote PATH")

	return cmd
}

func newRunCmd() *cobra.Command {
	var stage string
	var on []string

	cmd := &cobra.Command{
		Use:   "run <task-or-command>",
		Short: "Run a named task or shell command",
		Long: `Run a task by name, or any shell command, against the configured
connections. Unknown names are executed as shell commands.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskCommand(strings.Join(args, " "), on, stage)
		},
	}

	cmd.Flags().StringVarP(&stage, "stage", "s", "", "deployment stage")
	cmd.Flags().StringSliceVar(&on, "on", nil, "connections to target (default: all configured)")

	return cmd
}

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List available tasks",
		Long:  `List the builtin tasks and the command tasks declared in the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks()
		},
	}
}

func newHooksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hooks",
		Short: "Show the configured hook table",
		Long:  `Display the before/after listeners configured for each task, in the order they will run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHooks()
		},
	}
}

func newConnectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "List configured connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnections()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last run against each connection",
		Long:  `Display the persisted run record for every connection Capstan has deployed to from this project.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of Capstan",
		Long:  `Print the version number of Capstan`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("⚓ Capstan v%s\n", version)
		},
	}
}

// Implementation functions

// runtime bundles the wired collaborators a command needs
type runtime struct {
	cfg      *types.CapstanConfig
	logger   logger.Logger
	resolver *task.Resolver
	hooks    *hooks.Registry
	executor *engine.Executor
	records  *state.Manager
}

func loadConfig(path string) (*types.CapstanConfig, error) {
	return config.NewManager().LoadConfig(path)
}

// newRuntime loads the configuration and wires the task registry, resolver,
// hook registry, run recorder, notifier, and executor together.
func newRuntime() (*runtime, error) {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logFile := ""
	if cfg.Logging != nil && cfg.Logging.File != "" {
		logFile = cfg.Logging.File
	}
	log := logger.CreateLogger(logFile, verbosity)

	registry := tasks.DefaultRegistry()
	for name, command := range cfg.Tasks {
		name, command := name, command
		registry.Register(name, func() task.Task {
			return task.NewCommandTask(name, command)
		})
	}

	resolver := task.NewResolver(registry)
	hookRegistry := hooks.NewRegistry(resolver)
	if err := hookRegistry.LoadTable(cfg.Hooks); err != nil {
		return nil, fmt.Errorf("invalid hook table: %w", err)
	}

	records := state.NewManager(projectRoot, log)

	var notifications types.NotificationConfig
	if cfg.Notifications != nil {
		notifications = *cfg.Notifications
	}

	executor := engine.New(cfg, log, resolver, hookRegistry, engine.Dependencies{
		Notifier: notifier.New(notifications, log),
		Recorder: records,
	})

	return &runtime{
		cfg:      cfg,
		logger:   log,
		resolver: resolver,
		hooks:    hookRegistry,
		executor: executor,
		records:  records,
	}, nil
}

// commandContext returns a context cancelled by SIGINT/SIGTERM
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// refuseLocked fails when another live capstan process is mid-run against
// any of the targeted connections.
func refuseLocked(rt *runtime, on []string) error {
	targets := on
	if len(targets) == 0 {
		for _, conn := range rt.cfg.Connections {
			targets = append(targets, conn.Name)
		}
	}

	for _, name := range targets {
		locked, err := rt.records.IsLocked(name)
		if err != nil {
			return fmt.Errorf("failed to read run record for %s: %w", name, err)
		}
		if locked {
			return fmt.Errorf("connection %s is locked by another capstan run", name)
		}
	}
	return nil
}

func runTaskCommand(descriptor string, on []string, stage string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	if err := refuseLocked(rt, on); err != nil {
		printError(err.Error())
		return err
	}

	// Refresh record heartbeats while the run is live; release the
	// process claim on the way out.
	rt.records.StartHeartbeat(ctx)
	defer rt.records.Cleanup()

	opts := task.Options{}
	if stage != "" {
		opts["stage"] = stage
	}

	start := time.Now()
	output, err := rt.executor.On(ctx, on, opts, descriptor)
	if err != nil {
		printError(fmt.Sprintf("Run aborted: %v", err))
		return err
	}

	reportRun(output, time.Since(start))
	return nil
}

func runCheck(on []string, binaries []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	if err := refuseLocked(rt, on); err != nil {
		printError(err.Error())
		return err
	}

	rt.records.StartHeartbeat(ctx)
	defer rt.records.Cleanup()

	start := time.Now()
	output, err := rt.executor.On(ctx, on, nil, checks.FromBinaries(binaries...))
	if err != nil {
		printError(fmt.Sprintf("Check aborted: %v", err))
		return err
	}

	reportRun(output, time.Since(start))
	if output.Failed() {
		return fmt.Errorf("one or more connections failed requirement checks")
	}
	return nil
}

// reportRun prints a per-pass result table for a completed run
func reportRun(output *engine.Output, elapsed time.Duration) {
	entries := output.Entries()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONNECTION\tSTAGE\tTASK\tRESULT")
	fmt.Fprintln(w, "----------\t-----\t----\t------")

	for _, entry := range entries {
		stage := entry.Stage
		if stage == "" {
			stage = "-"
		}

		result := color.GreenString("ok")
		if entry.SoftFailed {
			result = color.RedString("failed")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", entry.Connection, stage, entry.Task, result)
	}
	w.Flush()

	if output.Failed() {
		printWarning(fmt.Sprintf("Run %s finished with aborted passes (%.2fs)", output.RunID, elapsed.Seconds()))
		return
	}
	printSuccess(fmt.Sprintf("Run %s completed: %d task result(s) (%.2fs)", output.RunID, output.Len(), elapsed.Seconds()))
}

func runTasks() error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tCOMMAND")
	fmt.Fprintln(w, "----\t----\t-------")

	declared := make(map[string]string, len(rt.cfg.Tasks))
	for name, command := range rt.cfg.Tasks {
		declared[task.Slugify(name)] = command
	}

	names := rt.resolver.Registry().Names()
	sort.Strings(names)

	for _, name := range names {
		kind := "builtin"
		command := "-"
		if c, ok := declared[name]; ok {
			kind = "command"
			command = c
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, kind, command)
	}

	w.Flush()
	return nil
}

func runHooks() error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	if len(rt.cfg.Hooks) == 0 {
		printInfo("No hooks configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tEVENT\tLISTENERS")
	fmt.Fprintln(w, "----\t-----\t---------")

	for _, event := range []types.HookEvent{types.HookBefore, types.HookAfter} {
		byTask, ok := rt.cfg.Hooks[event]
		if !ok {
			continue
		}
		identities := make([]string, 0, len(byTask))
		for identity := range byTask {
			identities = append(identities, identity)
		}
		sort.Strings(identities)
		for _, identity := range identities {
			flattened := rt.hooks.Flatten(identity, event)
			names := make([]string, len(flattened))
			for i, f := range flattened {
				switch v := f.(type) {
				case string:
					names[i] = v
				case task.Task:
					names[i] = v.Slug()
				default:
					names[i] = fmt.Sprintf("%v", f)
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", identity, event, strings.Join(names, ", "))
		}
	}

	w.Flush()
	return nil
}

func runConnections() error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tADDRESS\tUSER\tROOT")
	fmt.Fprintln(w, "----\t----\t-------\t----\t----")

	for _, conn := range rt.cfg.Connections {
		kind := "ssh"
		addr := conn.Addr()
		if conn.Local {
			kind = "local"
			addr = "-"
		}
		user := conn.User
		if user == "" {
			user = "-"
		}
		root := conn.Root
		if root == "" {
			root = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", conn.Name, kind, addr, user, root)
	}

	w.Flush()
	return nil
}

func runStatus() error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	records, err := rt.records.DiscoverRecords()
	if err != nil {
		return fmt.Errorf("failed to discover run records: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONNECTION\tSTATUS\tLAST RUN\tTASKS\tFAILURES")
	fmt.Fprintln(w, "----------\t------\t--------\t-----\t--------")

	for _, conn := range rt.cfg.Connections {
		status := "idle"
		lastRun := "-"
		taskCount := 0
		failures := 0

		if record, ok := records[conn.Name]; ok {
			status = string(record.Status)
			if !record.StartedAt.IsZero() {
				lastRun = record.StartedAt.Format("15:04:05")
			}
			taskCount = record.TaskCount
			failures = record.FailureCount
		}

		statusColor := color.WhiteString(status)
		switch status {
		case "succeeded":
			statusColor = color.GreenString(status)
		case "failed":
			statusColor = color.RedString(status)
		case "running":
			statusColor = color.YellowString(status)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			conn.Name,
			statusColor,
			lastRun,
			taskCount,
			failures,
		)
	}

	w.Flush()
	return nil
}
