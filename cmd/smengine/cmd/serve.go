package cmd

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/SMEngine/pkg/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dataset REST API",
	Long: `Serve the dataset REST API. In local mode queued datasets are annotated
by the server itself; otherwise job messages are posted to RabbitMQ.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	var runner api.Runner
	if a.cfg.Local() {
		runner = a.searchJob()
	}
	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(a.store, a.index, a.manager, runner, a.logger)
	if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
