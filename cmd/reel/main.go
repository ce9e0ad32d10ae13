package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/cmd/reel/commands"
	"github.com/teranos/reel/logger"
)

var rootCmd = &cobra.Command{
	Use:   "reel",
	Short: "reel - async image and video generation pipeline",
	Long: `reel - async image and video generation pipeline.

reel submits generation tasks to a media provider, polls them until they
finish, copies the result into owned storage and records every job.

Available commands:
  serve   - Start the HTTP server (create/status routes, job feed)
  submit  - Submit a generation job
  status  - Show a job, optionally refreshing it from the provider
  jobs    - List jobs
  invoke  - Handle one function-trigger event
  db      - Manage the job database
  am      - Manage reel configuration ("I am")
  version - Show version information

Examples:
  reel serve                              # Start the server
  reel submit --kind video "a cat surfing"
  reel status <job-id> --refresh
  reel jobs ls --status processing`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// am output stays machine-readable
		if cmd.Parent() != nil && cmd.Parent().Name() == "am" {
			return nil
		}
		if cmd.Name() == "invoke" {
			return logger.InitializeForFunction()
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if cfg, err := am.Load(); err == nil && cfg.Log.JSON {
			jsonLogs = true
		}
		if err := logger.InitializeWithVerbosity(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.SubmitCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.InvokeCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		for _, hint := range commands.Hints(err) {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
