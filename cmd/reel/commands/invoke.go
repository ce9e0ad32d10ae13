package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/gateway"
	"github.com/teranos/reel/sym"
)

// InvokeCmd handles one function-trigger event and prints the response
var InvokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: sym.Submit + " Handle one function-trigger event",
	Long: `Handle a single cloud-function HTTP trigger event.

The event JSON is read from --event (a file, or - for stdin), routed
through the same create/status handlers as 'reel serve', and the trigger
response payload is written to stdout.

A function instance may be frozen once it answers, so --wait keeps the
process alive until background polling for created jobs has finished.`,
	RunE: runInvoke,
}

var (
	invokeEvent string
	invokeWait  bool
)

func init() {
	InvokeCmd.Flags().StringVar(&invokeEvent, "event", "-", "Event JSON file, or - for stdin")
	InvokeCmd.Flags().BoolVar(&invokeWait, "wait", false, "Wait for background processing before exiting")
}

func runInvoke(cmd *cobra.Command, args []string) error {
	raw, err := readEvent(cmd, invokeEvent)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var resp gateway.Response
	env, err := gateway.FromEvent(raw)
	if err != nil {
		status, code, msg := gateway.StatusFor(err)
		resp = gateway.ErrorResponse(status, code, msg)
	} else {
		resp = gateway.NewHandler(a.pipeline, a.logger).Handle(ctx, env)
	}

	if invokeWait {
		a.pipeline.Runner().Wait()
	}

	out, err := json.Marshal(resp.ToEvent())
	if err != nil {
		return errors.Wrap(err, "encode response")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func readEvent(cmd *cobra.Command, source string) ([]byte, error) {
	if source == "-" {
		data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), gateway.MaxBodyBytes*2))
		return data, errors.Wrap(err, "read event from stdin")
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, errors.Wrapf(err, "read event %s", source)
	}
	return data, nil
}
