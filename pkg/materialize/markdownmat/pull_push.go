package markdownmat

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/log"
	"github.com/epicenterlabs/epicenter/pkg/materialize"
	"github.com/fsnotify/fsnotify"
)

// Pull drains the CRDT into the markdown tree, replacing any content for
// rows it manages. Idempotent: calling it twice produces the same on-disk
// state as calling it once.
func (m *Materializer) Pull() error {
	for name := range m.tables {
		rows := m.handles[name].GetAllValid()
		seen := make(map[string]bool, len(rows))
		for _, row := range rows {
			if err := m.writeRow(name, row); err != nil {
				return err
			}
			seen[m.filenameFor(name, row)] = true
		}
		if err := m.removeUnmanagedFiles(name, seen); err != nil {
			return err
		}
	}
	return nil
}

// removeUnmanagedFiles deletes any .md file left over from rows no longer
// present in the CRDT, so Pull converges the directory to exactly the
// current row set.
func (m *Materializer) removeUnmanagedFiles(tableName string, keep map[string]bool) error {
	entries, err := os.ReadDir(m.tableDir(tableName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		if keep[e.Name()] {
			continue
		}
		_ = os.Remove(filepath.Join(m.tableDir(tableName), e.Name()))
	}
	return nil
}

// Push reads every `.md` file under each table directory, parses it via
// the configured (or default) deserializer, and upserts valid rows into
// the CRDT. Malformed files are skipped with a warning rather than
// aborting the whole push (spec.md S5).
func (m *Materializer) Push() (materialize.PushReport, error) {
	report := materialize.PushReport{}
	for name := range m.tables {
		entries, err := os.ReadDir(m.tableDir(name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return report, epierr.Wrap(epierr.CodeMaterializerFail, "read table directory", err, map[string]any{"table": name})
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
				continue
			}
			path := filepath.Join(m.tableDir(name), e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", path, err))
				report.Skipped++
				continue
			}
			row, err := m.deserializeFile(name, data)
			if err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", path, err))
				report.Skipped++
				continue
			}
			if err := m.handles[name].Upsert(row); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", path, err))
				report.Skipped++
				continue
			}
			report.Upserted++
		}
	}
	return report, nil
}

func (m *Materializer) deserializeFile(tableName string, data []byte) (map[string]any, error) {
	if opt, ok := m.opts[tableName]; ok && opt.Deserialize != nil {
		row, err := opt.Deserialize(data)
		return row, err
	}
	full, ok := m.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", tableName)
	}
	return deserialize(full, data)
}

// Watch starts an fsnotify watcher on every table directory and triggers a
// Push whenever a .md file is created or written, so external edits to the
// markdown tree flow back into the CRDT without a manual Push call. Close
// stops the watcher.
func (m *Materializer) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return epierr.Wrap(epierr.CodeProviderFailed, "start markdown file watcher", err, nil)
	}
	for name := range m.tables {
		if err := watcher.Add(m.tableDir(name)); err != nil {
			watcher.Close()
			return epierr.Wrap(epierr.CodeProviderFailed, "watch table directory", err, map[string]any{"table": name})
		}
	}
	m.watcher = watcher

	go func() {
		logger := log.WithMaterializer(m.workspaceID, m.Name())
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if filepath.Ext(event.Name) != ".md" {
					continue
				}
				if _, err := m.Push(); err != nil {
					logger.Error().Err(err).Msg("push after external markdown change failed")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("markdown file watcher error")
			case <-m.stopWatch:
				return
			}
		}
	}()
	return nil
}

// Close releases the file watcher (if started) and unregisters bus
// handlers.
func (m *Materializer) Close() error {
	if m.unregister != nil {
		m.unregister()
	}
	if m.watcher != nil {
		close(m.stopWatch)
		return m.watcher.Close()
	}
	return nil
}
