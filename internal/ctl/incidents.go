package ctl

import (
	"context"
	"fmt"
	"os/user"
	"strconv"

	"github.com/dalemusser/askaway/internal/app/store/incidents"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func newIncidentsCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List and resolve failed rollbacks",
	}
	cmd.AddCommand(newIncidentsListCommand(root))
	cmd.AddCommand(newIncidentsResolveCommand(root))
	return cmd
}

func newIncidentsListCommand(root *RootOptions) *cobra.Command {
	var (
		all          bool
		conversation string
		limit        int64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List incidents, unresolved only unless --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withDB(func(ctx context.Context, db *mongo.Database) error {
				list, err := incidents.New(db).Query(ctx, incidents.QueryFilter{
					UnresolvedOnly: !all,
					ConversationID: conversation,
					Limit:          limit,
				})
				if err != nil {
					return fmt.Errorf("query incidents: %w", err)
				}
				if list == nil {
					list = []incidents.Incident{}
				}
				if root.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No incidents.")
					return nil
				}
				var rows [][]string
				for _, inc := range list {
					rows = append(rows, []string{
						inc.ID.Hex(),
						stamp(inc.Timestamp),
						inc.Operation,
						inc.SessionID.Hex(),
						strconv.FormatInt(inc.DataEventVersion, 10),
						strconv.FormatBool(inc.Resolved),
						inc.RevertError,
					})
				}
				return table(cmd.OutOrStdout(), "ID\tTIME\tOPERATION\tSESSION\tVERSION\tRESOLVED\tREVERT ERROR", rows)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include resolved incidents")
	cmd.Flags().StringVar(&conversation, "conversation", "", "only incidents of this conversation")
	cmd.Flags().Int64Var(&limit, "limit", 50, "maximum number of incidents")
	return cmd
}

func newIncidentsResolveCommand(root *RootOptions) *cobra.Command {
	var by, note string
	cmd := &cobra.Command{
		Use:   "resolve <incident-id>",
		Short: "Mark an incident as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := primitive.ObjectIDFromHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid incident id %q", args[0])
			}
			if by == "" {
				by = currentUser()
			}
			return root.withDB(func(ctx context.Context, db *mongo.Database) error {
				if err := incidents.New(db).Resolve(ctx, id, by, note); err != nil {
					return fmt.Errorf("resolve %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "operator name (default: current OS user)")
	cmd.Flags().StringVar(&note, "note", "", "what was done")
	return cmd
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
