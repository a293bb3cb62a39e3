package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

func newCaptureCmd() *cobra.Command {
	var (
		targetURL string
		entityID  string
		persist   bool
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Captures one thumbnail",
		Long: `Runs the capture pipeline once and prints the result as JSON. With --persist
the public URL is also written onto the project and a capture event is published.
No ownership check is performed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer a.Close()

			result, err := a.Orchestrator().Capture(ctx, targetURL, entityID)
			if err != nil {
				return fmt.Errorf("capture failed: %w", err)
			}
			if persist {
				if err := a.Projects().SetThumbnailURL(ctx, entityID, result.URL); err != nil {
					return fmt.Errorf("persist thumbnail url: %w", thumbnail.NewError(thumbnail.KindPersistenceFailure, "persist", err))
				}
				event := thumbnail.CapturedEvent{
					CaptureID:    result.CaptureID,
					EntityID:     result.EntityID,
					SourceURL:    result.SourceURL,
					ThumbnailURL: result.URL,
					Checksum:     result.Checksum,
					CapturedAt:   result.CapturedAt,
				}
				if err := a.Notifier().Notify(context.WithoutCancel(ctx), event); err != nil {
					rt.logger.Warn("capture notification failed", zap.Error(err))
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&targetURL, "url", "", "http(s) URL to capture")
	cmd.Flags().StringVar(&entityID, "entity", "", "project ID the thumbnail belongs to")
	cmd.Flags().BoolVar(&persist, "persist", false, "write the URL onto the project")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}
