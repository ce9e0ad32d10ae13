package commands

import (
	"context"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/pipeline"
	"github.com/teranos/reel/sym"
)

// SubmitCmd submits one generation job from the command line
var SubmitCmd = &cobra.Command{
	Use:   "submit [prompt]",
	Short: sym.Submit + " Submit a generation job",
	Long: `Submit an image or video generation job.

Without --wait the job is recorded as processing and the command returns;
a running 'reel serve' resumes it once it goes stale. With --wait the
command polls and materializes the result before exiting.

Examples:
  reel submit "a cat surfing at dawn"
  reel submit --kind image --size 1024*1024 "a lighthouse"
  reel submit --image-url https://example.com/in.png "make it move" --wait`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

var (
	submitKind     string
	submitModel    string
	submitUser     string
	submitImageURL string
	submitTemplate string
	submitSize     string
	submitDuration int
	submitWait     bool
)

func init() {
	SubmitCmd.Flags().StringVar(&submitKind, "kind", string(job.KindVideo), "Job kind: video or image")
	SubmitCmd.Flags().StringVar(&submitModel, "model", "", "Provider model (default depends on the input)")
	SubmitCmd.Flags().StringVar(&submitUser, "user", "", "User id to attribute the job to")
	SubmitCmd.Flags().StringVar(&submitImageURL, "image-url", "", "Source image for image-to-video")
	SubmitCmd.Flags().StringVar(&submitTemplate, "template", "", "Effect template")
	SubmitCmd.Flags().StringVar(&submitSize, "size", "", "Output size, e.g. 1280*720")
	SubmitCmd.Flags().IntVar(&submitDuration, "duration", 0, "Video duration in seconds")
	SubmitCmd.Flags().BoolVar(&submitWait, "wait", false, "Wait until the job completes or fails")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if !job.IsValidKind(submitKind) {
		return errors.Newf("unknown kind %q (supported: video, image)", submitKind)
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	req := pipeline.CreateRequest{
		Kind:     job.Kind(submitKind),
		Model:    submitModel,
		UserID:   submitUser,
		ImageURL: submitImageURL,
		Template: submitTemplate,
		Size:     submitSize,
		Duration: submitDuration,
	}
	if len(args) == 1 {
		req.Prompt = strings.TrimSpace(args[0])
	}

	j, err := a.pipeline.Create(ctx, req)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s Submitted job %s (task %s, model %s)", sym.Submit, j.ID, j.ExternalTaskID, j.Model)

	if !submitWait {
		pterm.Info.Printfln("Check progress with: reel status %s --refresh", j.ID)
		return nil
	}

	spinner, _ := pterm.DefaultSpinner.Start("Waiting for the provider...")
	a.pipeline.Runner().Wait()
	final, err := a.store.Get(ctx, j.ID)
	if err != nil {
		spinner.Fail("Could not read the job")
		return err
	}
	switch final.Status {
	case job.StatusCompleted:
		spinner.Success("Done")
	case job.StatusFailed:
		spinner.Fail("Failed")
	default:
		spinner.Warning("Still processing")
	}
	printJob(final)
	return nil
}
