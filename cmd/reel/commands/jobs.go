package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/sym"
)

// JobsCmd groups job listing commands
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.DB + " Inspect generation jobs",
	Long: `Inspect generation jobs.

Examples:
  reel jobs ls                          # Newest jobs
  reel jobs ls --status failed          # Failed jobs only
  reel jobs ls --user u1 --kind image   # One user's image jobs`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs newest first",
	RunE:  runJobsLs,
}

var (
	jobsStatus string
	jobsUser   string
	jobsKind   string
	jobsLimit  int
	jobsJSON   bool
)

func init() {
	jobsLsCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status: processing, completed, failed")
	jobsLsCmd.Flags().StringVar(&jobsUser, "user", "", "Filter by user id")
	jobsLsCmd.Flags().StringVar(&jobsKind, "kind", "", "Filter by kind: video, image")
	jobsLsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to show")
	jobsLsCmd.Flags().BoolVarP(&jobsJSON, "json", "j", false, "Output as JSON")

	JobsCmd.AddCommand(jobsLsCmd)
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	if jobsStatus != "" && !job.IsValidStatus(jobsStatus) {
		return errors.Newf("unknown status %q", jobsStatus)
	}
	if jobsKind != "" && !job.IsValidKind(jobsKind) {
		return errors.Newf("unknown kind %q", jobsKind)
	}

	ctx := context.Background()
	_, conn, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	jobs, err := store.List(ctx, job.Filter{
		Status: job.Status(jobsStatus),
		UserID: jobsUser,
		Kind:   job.Kind(jobsKind),
		Limit:  jobsLimit,
	})
	if err != nil {
		return err
	}

	if jobsJSON {
		data, err := json.MarshalIndent(jobs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(jobs) == 0 {
		pterm.Info.Println("No jobs")
		return nil
	}

	rows := pterm.TableData{{"", "ID", "KIND", "STATUS", "POLLS", "CREATED", "RESULT / ERROR"}}
	for _, j := range jobs {
		detail := j.ResultURL
		if j.Status == job.StatusFailed {
			detail = j.ErrorMessage
		}
		rows = append(rows, []string{
			sym.Stage(string(j.Status)),
			j.ID,
			string(j.Kind),
			string(j.Status),
			strconv.Itoa(j.PollAttempts),
			j.CreatedAt.Format("01-02 15:04"),
			truncate(detail, 60),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
