// Command epicenter-migrate invokes one named migration action against a
// constructed Epicenter and prints the resulting report. Grounded on the
// teacher's cmd/warren-migrate/main.go: a small flag-driven tool separate
// from the main binary, backing up the legacy source before migrating.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/epicenter"
	"github.com/epicenterlabs/epicenter/pkg/schema"
	"github.com/epicenterlabs/epicenter/pkg/workspace"
)

var (
	configRoot  = flag.String("config-root", "./epicenter-data", "root directory for workspace state")
	legacyRoot  = flag.String("legacy-root", "", "root directory of the legacy source to migrate from")
	workspaceID = flag.String("workspace", "notes", "workspace id to run the migration against")
	actionName  = flag.String("action", "import-legacy-notes", "name of the migration action to invoke")
	backupPath  = flag.String("backup", "", "path to back up the legacy root before migrating (default: <legacy-root>.backup)")
	dryRun      = flag.Bool("dry-run", false, "run the migration action without the backup step, for inspection")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *legacyRoot == "" {
		log.Fatal("--legacy-root is required")
	}

	if !*dryRun {
		dst := *backupPath
		if dst == "" {
			dst = *legacyRoot + ".backup"
		}
		log.Printf("backing up %s to %s", *legacyRoot, dst)
		if err := copyTree(*legacyRoot, dst); err != nil {
			log.Fatalf("backup failed: %v", err)
		}
	}

	def := migrationWorkspace(*legacyRoot)
	ep, err := epicenter.New(epicenter.Config{ConfigRoot: *configRoot}, def)
	if err != nil {
		log.Fatalf("failed to build epicenter: %v", err)
	}
	defer ep.Close()

	ws := ep.Workspace(*workspaceID)
	if ws == nil {
		log.Fatalf("unknown workspace %q", *workspaceID)
	}
	a, ok := ws.Actions()[*actionName]
	if !ok {
		log.Fatalf("workspace %q has no action %q", *workspaceID, *actionName)
	}

	res := a.Invoke(context.Background(), ws.Context(), map[string]any{})
	if !res.IsOk() {
		log.Fatalf("migration failed: %s", res.Error().Message)
	}

	out, _ := json.MarshalIndent(res.Unwrap(), "", "  ")
	fmt.Println(string(out))
}

// migrationWorkspace mirrors the "notes" workspace that cmd/epicenter
// serves, so the migration runs against the same schema the live host
// writes to. A real host would share this Def between both binaries; it is
// duplicated here only because the two commands are independent entry
// points, matching the teacher's separate cmd/warren-migrate binary.
func migrationWorkspace(legacyRoot string) workspace.Def {
	notes := schema.TableSchema{
		Name:   "notes",
		Fields: notesFields(),
	}
	ws := schema.WorkspaceSchema{Tables: map[string]schema.TableSchema{"notes": notes}}

	return workspace.Def{
		ID:     "notes",
		Schema: ws,
		Actions: func(actx action.Context) map[string]action.Action {
			return map[string]action.Action{
				"import-legacy-notes": action.DefineMigration(
					"import-legacy-notes",
					legacyRoot,
					importLegacyNotes,
					action.WithDescription("imports notes from a legacy JSON export directory"),
				),
			}
		},
	}
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o600)
	})
}
