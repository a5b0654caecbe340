// Package markdownmat mirrors a CRDT-backed table into a directory of
// markdown files, one file per row: YAML front matter for every non-body
// field, followed by the body (a designated text/rich-text field).
// Grounded on the front-matter + body layout used across the pack's
// markdown-note tools and on the teacher's pkg/storage/boltdb.go for the
// atomic tmp-then-rename write discipline.
package markdownmat

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/epicenterlabs/epicenter/pkg/bus"
	"github.com/epicenterlabs/epicenter/pkg/crdt"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/field"
	"github.com/epicenterlabs/epicenter/pkg/log"
	"github.com/epicenterlabs/epicenter/pkg/materialize"
	"github.com/epicenterlabs/epicenter/pkg/schema"
	"github.com/epicenterlabs/epicenter/pkg/table"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// TableOptions customizes serialization for one table. Every field has a
// sensible default: filename "<id>.md", frontmatter = every non-body
// field, body = the schema's BodyField (empty if none).
type TableOptions struct {
	// Filename builds a row's filename from its fields. Defaults to
	// "<id>.md".
	Filename func(row crdt.Row) string

	// Deserialize parses a file's raw bytes into a row. Defaults to the
	// standard frontmatter+body parser. May return a structured error to
	// reject malformed files.
	Deserialize func(data []byte) (crdt.Row, error)
}

// Materializer mirrors a set of tables into a directory tree rooted at
// RootPath, one subdirectory per table (`<root>/<workspace-id>/<table>/`).
type Materializer struct {
	workspaceID string
	root        string
	doc         *crdt.Document
	tables      map[string]schema.TableSchema
	handles     map[string]*table.Table
	opts        map[string]TableOptions
	watcher     *fsnotify.Watcher
	unregister  func()
	stopWatch   chan struct{}
}

// Open creates (if absent) one directory per table under
// `<root>/<workspaceID>/` and performs an initial pull.
func Open(workspaceID, root string, ws schema.WorkspaceSchema, doc *crdt.Document, handles map[string]*table.Table, opts map[string]TableOptions) (*Materializer, error) {
	if opts == nil {
		opts = map[string]TableOptions{}
	}
	m := &Materializer{
		workspaceID: workspaceID,
		root:        root,
		doc:         doc,
		tables:      ws.Tables,
		handles:     handles,
		opts:        opts,
		stopWatch:   make(chan struct{}),
	}
	for name := range ws.Tables {
		if err := os.MkdirAll(m.tableDir(name), 0o755); err != nil {
			return nil, epierr.Wrap(epierr.CodeMaterializerFail, "create table directory", err, map[string]any{"table": name})
		}
	}
	if err := m.Pull(); err != nil {
		return nil, err
	}
	return m, nil
}

var _ materialize.Materializer = (*Materializer)(nil)

func (m *Materializer) Name() string { return "markdown:" + m.root }

func (m *Materializer) tableDir(table string) string {
	return filepath.Join(m.root, m.workspaceID, table)
}

func (m *Materializer) filenameFor(table string, row crdt.Row) string {
	if opt, ok := m.opts[table]; ok && opt.Filename != nil {
		return opt.Filename(row)
	}
	return fmt.Sprintf("%v.md", row[m.tables[table].IDField()])
}

// Register installs add/update/delete handlers for every mirrored table.
func (m *Materializer) Register(b *bus.Bus) (unregisterAll func()) {
	unregs := make([]func(), 0, len(m.tables))
	for name := range m.tables {
		tableName := name
		unregs = append(unregs, b.Register(tableName, m.Name(), tableHandler{m: m, table: tableName}))
	}
	m.unregister = func() {
		for _, u := range unregs {
			u()
		}
	}
	return m.unregister
}

type tableHandler struct {
	m     *Materializer
	table string
}

func (h tableHandler) OnAdd(table string, row crdt.Row) error    { return h.m.writeRow(table, row) }
func (h tableHandler) OnUpdate(table string, row crdt.Row) error { return h.m.writeRow(table, row) }
func (h tableHandler) OnDelete(table, id string) error           { return h.m.deleteRow(table, id) }

// writeRow serializes row to YAML front matter + body and writes it
// atomically (tmp file, then rename over the target), so a reader never
// observes a partially written file.
func (m *Materializer) writeRow(tableName string, row crdt.Row) error {
	ts, ok := m.tables[tableName]
	if !ok {
		return nil
	}
	path := filepath.Join(m.tableDir(tableName), m.filenameFor(tableName, row))
	content, err := serialize(ts, row)
	if err != nil {
		return epierr.Wrap(epierr.CodeMaterializerFail, "serialize row", err, map[string]any{"table": tableName, "path": path})
	}
	if err := atomicWrite(path, content); err != nil {
		return epierr.Wrap(epierr.CodeMaterializerFail, "write markdown file", err, map[string]any{"table": tableName, "path": path})
	}
	return nil
}

func (m *Materializer) deleteRow(tableName, id string) error {
	ts, ok := m.tables[tableName]
	if !ok {
		return nil
	}
	row := crdt.Row{ts.IDField(): id}
	path := filepath.Join(m.tableDir(tableName), m.filenameFor(tableName, row))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return epierr.Wrap(epierr.CodeMaterializerFail, "delete markdown file", err, map[string]any{"table": tableName, "path": path})
	}
	return nil
}

// serialize renders a row as `---\n<yaml frontmatter>\n---\n<body>\n`.
// Frontmatter keys match field names exactly, in insertion (sorted) order;
// no automatic case conversion.
func serialize(ts schema.TableSchema, row crdt.Row) ([]byte, error) {
	body := ""
	if ts.BodyField != "" {
		if v, ok := row[ts.BodyField]; ok {
			body = fmt.Sprintf("%v", v)
		}
	}

	fm := yaml.MapSlice{}
	for _, name := range ts.FieldNames() {
		if name == ts.BodyField {
			continue
		}
		fm = append(fm, yaml.MapItem{Key: name, Value: row[name]})
	}

	yamlBytes, err := yaml.Marshal(fm)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(yamlBytes)
	buf.WriteString("---\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// deserialize parses the standard frontmatter+body layout back into a row.
func deserialize(ts schema.TableSchema, data []byte) (crdt.Row, error) {
	s := string(data)
	if !strings.HasPrefix(s, "---\n") {
		return nil, fmt.Errorf("missing frontmatter delimiter")
	}
	rest := s[4:]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return nil, fmt.Errorf("missing closing frontmatter delimiter")
	}
	yamlPart := rest[:end]
	body := rest[end+len("\n---\n"):]

	var fm yaml.MapSlice
	if err := yaml.Unmarshal([]byte(yamlPart), &fm); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}

	row := make(crdt.Row, len(fm)+1)
	for _, item := range fm {
		key, ok := item.Key.(string)
		if !ok {
			continue
		}
		if d, ok := ts.Fields[key]; ok {
			row[key] = coerce(d, item.Value)
		} else {
			row[key] = item.Value
		}
	}
	if ts.BodyField != "" {
		row[ts.BodyField] = strings.TrimSuffix(body, "\n")
	}
	return row, nil
}

func atomicWrite(path string, content []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// coerce repairs the type drift YAML decoding introduces relative to a
// field's logical type: integers decode as int, tag lists as []any.
func coerce(d field.Descriptor, value any) any {
	switch d.Kind {
	case field.KindInteger:
		switch v := value.(type) {
		case int:
			return int64(v)
		case int64:
			return v
		}
	case field.KindTags:
		if items, ok := value.([]any); ok {
			tags := make([]string, 0, len(items))
			for _, it := range items {
				if s, ok := it.(string); ok {
					tags = append(tags, s)
				}
			}
			return tags
		}
	}
	return value
}
