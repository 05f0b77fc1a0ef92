package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/SMEngine/pkg/job"
	"github.com/ChrisMcGann/SMEngine/pkg/queue"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Consume annotation job messages from RabbitMQ",
	Long: `Consume job messages from the sm_annotate queue one at a time and run
the annotation of each dataset. Dataset status changes are published to the
sm_dataset_status queue.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Local() {
		return fmt.Errorf("daemon requires a rabbitmq url")
	}
	consumer, err := queue.DialConsumer(a.cfg.Queue.URL, queue.AnnotateQueue, a.cfg.Queue.Prefetch, a.logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	err = consumer.Run(ctx, annotateHandler(a.searchJob()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func annotateHandler(j *job.SearchJob) queue.Handler {
	return func(ctx context.Context, body []byte) error {
		var msg queue.AnnotateMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("malformed job message: %w", err)
		}
		if msg.DatasetID == "" {
			return fmt.Errorf("job message without ds_id")
		}
		return j.Run(ctx, msg.DatasetID)
	}
}
