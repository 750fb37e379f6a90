package ctl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dalemusser/askaway/internal/app/services/qna"
	"github.com/dalemusser/askaway/internal/app/store/qnasessions"
	"github.com/dalemusser/askaway/internal/app/store/questions"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"github.com/dalemusser/askaway/internal/domain/models"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func newSessionCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or repair a Q&A session",
	}
	cmd.AddCommand(newSessionShowCommand(root))
	cmd.AddCommand(newSessionForceEndCommand(root))
	return cmd
}

type sessionReport struct {
	Session    models.QnASession `json:"session"`
	Unanswered []models.Question `json:"unanswered"`
	Answered   []models.Question `json:"answered"`
}

func newSessionShowCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session and its questions in leaderboard order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			return root.withDB(func(ctx context.Context, db *mongo.Database) error {
				sess, err := qnasessions.New(db).Get(ctx, id)
				if errors.Is(err, storeerr.ErrNotFound) {
					return fmt.Errorf("session %s not found", args[0])
				}
				if err != nil {
					return err
				}
				qs, err := questions.New(db).ListBySession(ctx, id)
				if err != nil {
					return fmt.Errorf("list questions: %w", err)
				}
				answered, unanswered := qna.SortQuestions(qs)
				report := sessionReport{Session: sess, Unanswered: unanswered, Answered: answered}

				if root.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				return printSession(cmd, report)
			})
		},
	}
}

func printSession(cmd *cobra.Command, r sessionReport) error {
	out := cmd.OutOrStdout()
	s := r.Session
	ended := "-"
	if s.DateTimeEnded != nil {
		ended = stamp(*s.DateTimeEnded)
	}
	fmt.Fprintf(out, "Session:      %s\n", s.ID.Hex())
	fmt.Fprintf(out, "Title:        %s\n", s.Title)
	fmt.Fprintf(out, "Conversation: %s\n", s.ConversationID)
	fmt.Fprintf(out, "Host:         %s\n", s.HostID)
	fmt.Fprintf(out, "Active:       %t\n", s.IsActive)
	fmt.Fprintf(out, "Version:      %d\n", s.DataEventVersion)
	fmt.Fprintf(out, "Created:      %s\n", stamp(s.DateTimeCreated))
	fmt.Fprintf(out, "Ended:        %s\n\n", ended)

	var rows [][]string
	add := func(qs []models.Question) {
		for _, q := range qs {
			rows = append(rows, []string{
				q.ID.Hex(),
				strconv.Itoa(q.VoteCount()),
				strconv.FormatBool(q.IsAnswered),
				q.UserID,
				q.Content,
			})
		}
	}
	add(r.Unanswered)
	add(r.Answered)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No questions.")
		return nil
	}
	return table(out, "QUESTION\tVOTES\tANSWERED\tAUTHOR\tCONTENT", rows)
}

func newSessionForceEndCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "force-end <session-id>",
		Short: "End a session in the store without notifying clients",
		Long: `End a session in the store without notifying clients.

Use this to clear a session left active by an incident so the conversation
can start a new one. The version is bumped like a normal end; no Ended event
is sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			return root.withDB(func(ctx context.Context, db *mongo.Database) error {
				res, err := qnasessions.New(db).End(ctx, id, time.Now().UTC())
				if errors.Is(err, storeerr.ErrNotFound) {
					return fmt.Errorf("session %s not found", args[0])
				}
				if err != nil {
					return fmt.Errorf("end session: %w", err)
				}
				if root.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				if !res.Ended {
					fmt.Fprintf(cmd.OutOrStdout(), "Session %s was already ended.\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ended session %s at version %d.\n", args[0], res.Session.DataEventVersion)
				return nil
			})
		},
	}
}

func parseSessionID(s string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid session id %q", s)
	}
	return id, nil
}
