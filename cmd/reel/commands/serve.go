package commands

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/server"
	"github.com/teranos/reel/sym"
	"github.com/teranos/reel/version"
)

// ServeCmd starts the reel HTTP server
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   sym.RunnerOpen + " Start the reel server",
	Long: `Start the reel HTTP server.

Routes:
  POST /api/{video|image}/create    submit a generation job
  GET  /api/{video|image}/status    read a job (refresh=true queries the provider)
  GET  /api/jobs[/{id}]             list or fetch jobs
  GET  /ws/jobs                     live job updates
  GET  /health                      health and stats

Processing jobs left behind by a previous process are resumed by
housekeeping once they go stale.`,
	RunE: runServe,
}

var servePort int

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.GetServerPort()
	if servePort > 0 {
		port = servePort
	}

	if w := a.watchConfig(); w != nil {
		defer w.Stop()
	}
	if a.housekeeping != nil {
		a.housekeeping.Start(ctx)
	}

	serverCfg := a.cfg.Server
	serverCfg.AllowedOrigins = a.cfg.GetServerAllowedOrigins()
	srv := server.New(server.Options{
		Config:       serverCfg,
		Pipeline:     a.pipeline,
		Housekeeping: a.housekeeping,
		Media:        a.media,
		Logger:       a.logger,
	})

	printBanner(a, port, verbosity)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe(ctx, port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server stopped")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")
		cancel()
		select {
		case err := <-errChan:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

func printBanner(a *app, port, verbosity int) {
	info := version.Get()
	pterm.DefaultHeader.WithFullWidth().Printf("%s reel %s", sym.Runner, info.Version)
	pterm.Printfln("%s Listening    http://localhost:%d", sym.RunnerOpen, port)
	pterm.Printfln("%s Database     %s", sym.DB, databaseLabel(a))
	pterm.Printfln("%s Storage      %s", sym.Storage, a.cfg.Storage.Backend)
	pterm.Printfln("%s Providers    %s", sym.Submit, strings.Join(a.providers.Names(), ", "))
	pterm.Printfln("%s Workers      %d (poll budget %s per job)", sym.Runner, a.cfg.Pipeline.Workers, a.policy.MaxPollDuration())
	if a.housekeeping != nil {
		pterm.Printfln("%s Housekeeping every %ds", sym.Housekeeping, a.cfg.Housekeeping.IntervalSeconds)
	}
	pterm.Printfln("%s Verbosity    %s", sym.Config, logger.LevelName(verbosity))
	if len(a.cfg.Server.APITokens) == 0 {
		pterm.Warning.Println("No server.api_tokens configured: API is open")
	}
	pterm.Println()
}

func databaseLabel(a *app) string {
	if a.cfg.Database.Driver == am.DriverPostgres {
		return "postgres"
	}
	return a.cfg.GetDatabasePath()
}
