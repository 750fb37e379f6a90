package ctl

import (
	"context"
	"fmt"

	"github.com/dalemusser/askaway/internal/app/system/indexes"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
)

func newEnsureIndexesCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-indexes",
		Short: "Create or reconcile the indexes of every collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withDB(func(ctx context.Context, db *mongo.Database) error {
				if err := indexes.EnsureAll(ctx, db); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexes ensured on %s.\n", db.Name())
				return nil
			})
		},
	}
}
