package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/field"
	"github.com/epicenterlabs/epicenter/pkg/schema"
)

func notesFields() schema.FieldMap {
	return schema.FieldMap{
		"id":    field.ID(),
		"title": field.Text(),
		"views": field.Integer(field.WithDefault(func() any { return int64(0) })),
	}
}

// legacyNote is the shape of one *.json file under LegacyRoot: the flat
// record format the pre-CRDT note store wrote to disk.
type legacyNote struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Views int64  `json:"views"`
}

// importLegacyNotes reads every *.json file directly under mctx.LegacyRoot
// and upserts it into the notes table, skipping (and warning on) records
// that fail to parse or fail the table's own validation.
func importLegacyNotes(ctx context.Context, mctx action.MigrationContext) epierr.Result[action.MigrationReport] {
	entries, err := os.ReadDir(mctx.LegacyRoot)
	if err != nil {
		return epierr.Err[action.MigrationReport](epierr.Wrap(epierr.CodeProviderFailed, "read legacy root", err, map[string]any{"path": mctx.LegacyRoot}))
	}

	report := action.MigrationReport{}
	table := mctx.Tables["notes"]

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		report.RowsRead++

		data, err := os.ReadFile(filepath.Join(mctx.LegacyRoot, entry.Name()))
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		var note legacyNote
		if err := json.Unmarshal(data, &note); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: invalid JSON: %v", entry.Name(), err))
			continue
		}
		if note.ID == "" {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: missing id, skipped", entry.Name()))
			continue
		}

		err = table.Upsert(map[string]any{
			"id":    note.ID,
			"title": note.Title,
			"views": note.Views,
		})
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		report.RowsUpserted++
	}

	return epierr.Ok(report)
}
