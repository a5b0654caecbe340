package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// snapshotRow and snapshotDoc are gob-friendly mirrors of the internal
// state (gob cannot encode unexported struct fields directly when nested
// under map[string]any values of arbitrary dynamic type, so we register the
// common dynamic types explicitly).
type snapshotField struct {
	Value   any
	Site    string
	Counter uint64
}

type snapshotRow struct {
	Fields      map[string]snapshotField
	Deleted     bool
	DeleteSite  string
	DeleteCount uint64
}

type snapshotDoc struct {
	SiteID  string
	Counter uint64
	Tables  map[string]map[string]snapshotRow
	KV      map[string]snapshotField
}

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register(int64(0))
	gob.Register(false)
	gob.Register("")
	gob.Register(float64(0))
}

// Serialize snapshots the whole document to bytes for persistence. Apply
// (via Restore) on another process reconstructs an identical document,
// including vector-clock stamps, so merges after restore behave exactly as
// if the process had never restarted.
func (d *Document) Serialize() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := snapshotDoc{
		SiteID:  d.siteID,
		Counter: d.counter,
		Tables:  make(map[string]map[string]snapshotRow, len(d.tables)),
		KV:      make(map[string]snapshotField, len(d.kv)),
	}
	for table, rows := range d.tables {
		sr := make(map[string]snapshotRow, len(rows))
		for id, rs := range rows {
			fr := make(map[string]snapshotField, len(rs.fields))
			for f, fv := range rs.fields {
				fr[f] = snapshotField{Value: fv.value, Site: fv.stamp.Site, Counter: fv.stamp.Counter}
			}
			sr[id] = snapshotRow{
				Fields:      fr,
				Deleted:     rs.deleted,
				DeleteSite:  rs.deleteStamp.Site,
				DeleteCount: rs.deleteStamp.Counter,
			}
		}
		snap.Tables[table] = sr
	}
	for k, fv := range d.kv {
		snap.KV[k] = snapshotField{Value: fv.value, Site: fv.stamp.Site, Counter: fv.stamp.Counter}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("crdt: serialize: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the document's state with a previously Serialized
// snapshot. Applied atomically: either the whole snapshot takes effect, or
// (on decode error) the document is left untouched.
func (d *Document) Restore(data []byte) error {
	var snap snapshotDoc
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("crdt: restore: %w", err)
	}

	tables := make(map[string]map[string]*rowState, len(snap.Tables))
	for table, rows := range snap.Tables {
		tr := make(map[string]*rowState, len(rows))
		for id, sr := range rows {
			fields := make(map[string]fieldValue, len(sr.Fields))
			for f, sf := range sr.Fields {
				fields[f] = fieldValue{value: sf.Value, stamp: fieldStamp{Site: sf.Site, Counter: sf.Counter}}
			}
			tr[id] = &rowState{
				fields:      fields,
				deleted:     sr.Deleted,
				deleteStamp: fieldStamp{Site: sr.DeleteSite, Counter: sr.DeleteCount},
			}
		}
		tables[table] = tr
	}
	kv := make(map[string]fieldValue, len(snap.KV))
	for k, sf := range snap.KV {
		kv[k] = fieldValue{value: sf.Value, stamp: fieldStamp{Site: sf.Site, Counter: sf.Counter}}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if snap.SiteID != "" {
		d.siteID = snap.SiteID
	}
	d.counter = snap.Counter
	d.tables = tables
	d.kv = kv
	return nil
}

// EmitSnapshot replays every row currently held by the document as an add
// event. A persistence provider that loads a snapshot via Restore before
// any bus or materializer is subscribed bypasses the normal commit path
// entirely (Restore does not notify); calling EmitSnapshot immediately
// afterward lets the Observer Bus and every registered materializer see
// the restored rows as ordinary adds, exactly as if they had been inserted
// one by one (spec.md §5: "providers attach after materializers have
// completed their initial pull").
func (d *Document) EmitSnapshot() {
	d.mu.Lock()
	commits := make([]Commit, 0)
	for table, rows := range d.tables {
		for id, rs := range rows {
			if !rs.exists() {
				continue
			}
			commits = append(commits, Commit{Table: table, ID: id, Kind: EventAdd, Row: rs.toRow()})
		}
	}
	d.mu.Unlock()
	d.notify(commits)
}
