package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	syncsvc "github.com/jstrand/bookmark-sync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	var (
		limit        int
		forceRefresh bool
		noEnrich     bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Runs a single reconciliation cycle and exits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()

			result := appInstance.Sync().SyncBookmarks(cmd.Context(), syncsvc.Options{
				Limit:          limit,
				ForceRefresh:   forceRefresh,
				EnrichMetadata: !noEnrich,
			})
			logger.Info("sync finished",
				zap.Bool("success", result.Success),
				zap.Int("created", result.Created),
				zap.Int("updated", result.Updated),
				zap.Int("errors", result.Errors),
			)
			for _, msg := range result.ErrorMessages {
				logger.Warn(msg)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", syncsvc.DefaultLimit, "maximum remote bookmarks to fetch")
	cmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "rewrite every matched record")
	cmd.Flags().BoolVar(&noEnrich, "no-enrich", false, "skip page metadata enrichment")

	return cmd
}
