package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/gateway"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/sym"
)

// StatusCmd shows a job
var StatusCmd = &cobra.Command{
	Use:   "status <job-id | --task task-id>",
	Short: sym.Poll + " Show a job",
	Long: `Show a job's persisted state.

With --refresh a processing job is queried at the provider once and, if
the task finished, materialized before the state is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	statusRefresh bool
	statusJSON    bool
	statusTask    string
)

func init() {
	StatusCmd.Flags().BoolVar(&statusRefresh, "refresh", false, "Query the provider once before reporting")
	StatusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "Output as JSON")
	StatusCmd.Flags().StringVar(&statusTask, "task", "", "Look the job up by provider task id")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if (len(args) == 1) == (statusTask != "") {
		return errors.New("give either a job id or --task")
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var id string
	if len(args) == 1 {
		id = args[0]
	} else {
		j, err := a.store.GetByTaskID(ctx, statusTask)
		if err != nil {
			return err
		}
		id = j.ID
	}

	report, err := a.pipeline.Status(ctx, id, statusRefresh)
	if err != nil {
		return err
	}

	if statusJSON {
		data, err := json.MarshalIndent(gateway.NewStatusResponse(report), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printJob(report.Job)
	if report.RemoteState != "" {
		pterm.Printfln("Remote:    %s", report.RemoteState)
	}
	return nil
}

// printJob renders one job for humans
func printJob(j *job.Job) {
	pterm.Printfln("%s %s  %s", sym.Stage(string(j.Status)), j.ID, j.Status)
	pterm.Printfln("Kind:      %s", j.Kind)
	pterm.Printfln("Provider:  %s (%s)", j.Provider, j.Model)
	pterm.Printfln("Task:      %s", j.ExternalTaskID)
	if j.Prompt != "" {
		pterm.Printfln("Prompt:    %s", j.Prompt)
	}
	pterm.Printfln("Polls:     %d", j.PollAttempts)
	pterm.Printfln("Created:   %s", j.CreatedAt.Format("2006-01-02 15:04:05"))
	switch j.Status {
	case job.StatusCompleted:
		pterm.Printfln("Result:    %s", j.ResultURL)
		pterm.Printfln("Took:      %s", j.Duration())
	case job.StatusFailed:
		pterm.Printfln("Error:     %s", j.ErrorMessage)
	}
}
