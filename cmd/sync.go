package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/participant-enrichment/internal/enrichment"
)

// eventsFile is the on-disk shape accepted by sync: either a bare list of
// events or an object with an events key.
type eventsFile struct {
	Events []enrichment.CalendarEvent `json:"events" yaml:"events"`
}

// parseEvents decodes calendar events from JSON (.json) or YAML.
func parseEvents(path string, data []byte) ([]enrichment.CalendarEvent, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	isList := strings.HasPrefix(trimmed, "[") ||
		(strings.HasPrefix(trimmed, "-") && !strings.HasPrefix(trimmed, "---"))

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if isList {
			var events []enrichment.CalendarEvent
			return events, eris.Wrap(json.Unmarshal(data, &events), "parse events json")
		}
		var f eventsFile
		return f.Events, eris.Wrap(json.Unmarshal(data, &f), "parse events json")
	}

	if isList {
		var events []enrichment.CalendarEvent
		return events, eris.Wrap(yaml.Unmarshal(data, &events), "parse events yaml")
	}
	var f eventsFile
	return f.Events, eris.Wrap(yaml.Unmarshal(data, &f), "parse events yaml")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upsert participants from a calendar events file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		org, _ := cmd.Flags().GetString("org")
		path, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "read %s", path)
		}
		events, err := parseEvents(path, data)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Manager.SyncParticipants(ctx, org, events)
		if err != nil {
			return err
		}
		zap.L().Info("sync complete",
			zap.String("file", path),
			zap.Int("events", len(events)),
			zap.Int("created", res.Created),
			zap.Int("updated", res.Updated),
		)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("org", "", "organization id (required)")
	syncCmd.Flags().String("file", "", "calendar events file, JSON or YAML (required)")
	_ = syncCmd.MarkFlagRequired("org")
	_ = syncCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(syncCmd)
}
