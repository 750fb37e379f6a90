// Package ctl implements askawayctl, the operator command line for the
// Ask Away store: incident remediation, session inspection and index setup.
package ctl

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	MongoURI string
	Database string
	Format   string // "json" | "text"
	Timeout  time.Duration

	// connect opens the database. Replaced in tests.
	connect func(ctx context.Context, o *RootOptions) (*mongo.Database, func(), error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of askawayctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{connect: connectMongo})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "askawayctl",
		Short: "Operate an Ask Away deployment",
		Long:  "Inspect and repair Ask Away sessions, incidents and indexes directly in the store.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.MongoURI, "mongo-uri", envOr("ASKAWAY_MONGO_URI", "mongodb://localhost:27017"), "MongoDB connection URI")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", envOr("ASKAWAY_MONGO_DATABASE", "askaway"), "MongoDB database name")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "timeout of the whole command")

	cmd.AddCommand(newIncidentsCommand(opts))
	cmd.AddCommand(newSessionCommand(opts))
	cmd.AddCommand(newEnsureIndexesCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}

// withDB runs fn against the configured database under the command timeout.
func (o *RootOptions) withDB(fn func(ctx context.Context, db *mongo.Database) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.Timeout)
	defer cancel()

	db, closeFn, err := o.connect(ctx, o)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, db)
}

func connectMongo(ctx context.Context, o *RootOptions) (*mongo.Database, func(), error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(o.MongoURI).SetAppName("askawayctl"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", o.MongoURI, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping %s: %w", o.MongoURI, err)
	}
	return client.Database(o.Database), func() { _ = client.Disconnect(context.Background()) }, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
