package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatlink/cli/render"
	"github.com/pithecene-io/chatlink/transcript"
	"github.com/pithecene-io/chatlink/types"
)

// ReplayRow is one transcript record as rendered by replay.
type ReplayRow struct {
	Seq            int64  `json:"seq" yaml:"seq"`
	Ts             string `json:"ts" yaml:"ts"`
	SubscriptionID string `json:"subscription_id" yaml:"subscription_id"`
	ID             string `json:"id" yaml:"id"`
	User           string `json:"user" yaml:"user"`
	Text           string `json:"text" yaml:"text"`
	Errors         int    `json:"errors" yaml:"errors"`
}

// ReplayCommand returns the replay command.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Render a recorded transcript",
		ArgsUsage: "FILE",
		Flags:     OutputFlags(),
		Action:    replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("replay requires exactly one FILE", exitApplicationError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	records, err := transcript.ReadAll(f)
	if err != nil && !transcript.IsPartial(err) {
		return err
	}
	rows := replayRows(records)

	if r.Format() == render.FormatTable {
		for _, row := range rows {
			if row.Errors > 0 {
				continue
			}
			if err := r.WriteLine(types.Message{ID: row.ID, User: row.User, Text: row.Text, Timestamp: row.Ts}); err != nil {
				return err
			}
		}
	} else if err := r.Render(rows); err != nil {
		return err
	}

	if err != nil {
		fmt.Fprintf(c.App.ErrWriter, "warning: %v\n", err)
	}
	return nil
}

// replayRows flattens each record's messageAdded payload.
func replayRows(records []transcript.Record) []ReplayRow {
	rows := make([]ReplayRow, 0, len(records))
	for _, rec := range records {
		row := ReplayRow{
			Seq:            rec.Seq,
			Ts:             rec.Ts,
			SubscriptionID: rec.SubscriptionID,
			Errors:         len(rec.Envelope.Errors),
		}
		var data struct {
			MessageAdded *types.Message `json:"messageAdded"`
		}
		if err := rec.Envelope.DecodeData(&data); err == nil && data.MessageAdded != nil {
			row.ID = data.MessageAdded.ID
			row.User = data.MessageAdded.User
			row.Text = data.MessageAdded.Text
			if data.MessageAdded.Timestamp != "" {
				row.Ts = data.MessageAdded.Timestamp
			}
		}
		rows = append(rows, row)
	}
	return rows
}
