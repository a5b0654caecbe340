package crdt

// Update is the wire form of one row's state, exchanged with sync peers and
// persisted by the persistence provider. Field-level stamps let a remote
// update merge without clobbering concurrent local field writes. DeleteSite
// and DeleteCounter carry the tombstone's own stamp, separate from the
// field stamps, so a receiver can tell whether the delete happened strictly
// after the fields it is competing against.
type Update struct {
	Table         string
	ID            string
	Deleted       bool
	DeleteSite    string
	DeleteCounter uint64
	Fields        map[string]UpdateField
}

// UpdateField carries a field's value alongside the stamp it was written
// with, so Merge can compare "happened strictly after" per field rather
// than per row.
type UpdateField struct {
	Value   any
	Site    string
	Counter uint64
}

// Export snapshots one row as an Update, suitable for sending to a sync
// peer or writing to a persistence provider.
func (d *Document) Export(table, id string) (Update, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs := d.tables[table][id]
	if rs == nil {
		return Update{}, false
	}
	u := Update{
		Table:         table,
		ID:            id,
		Deleted:       rs.deleted,
		DeleteSite:    rs.deleteStamp.Site,
		DeleteCounter: rs.deleteStamp.Counter,
		Fields:        make(map[string]UpdateField, len(rs.fields)),
	}
	for f, fv := range rs.fields {
		u.Fields[f] = UpdateField{Value: fv.value, Site: fv.stamp.Site, Counter: fv.stamp.Counter}
	}
	return u, true
}

// Merge applies a remote Update field-by-field: each field (and the delete
// stamp, if the update is a delete) is adopted only if its stamp is "after"
// the locally stored stamp for that same field. Per invariant 4.3, a merge
// never fails outright; if the result leaves an invariant broken (e.g. a
// required field missing), the row is still stored and flagged invalid by
// downstream validation rather than rejected.
//
// Merge returns the Commit to deliver to observers, or ok=false if nothing
// locally visible changed (the remote update was entirely stale).
func (d *Document) Merge(u Update) (Commit, bool) {
	d.mu.Lock()

	d.observeCounter(u.DeleteCounter)
	for _, uf := range u.Fields {
		d.observeCounter(uf.Counter)
	}

	ensureTable(d, u.Table)
	rs := d.tables[u.Table][u.ID]
	if rs == nil {
		rs = &rowState{fields: map[string]fieldValue{}}
		d.tables[u.Table][u.ID] = rs
	}

	existedBefore := rs.exists()
	changed := false

	if u.Deleted {
		remoteDeleteStamp := fieldStamp{Site: u.DeleteSite, Counter: u.DeleteCounter}
		if !rs.deleted && remoteDeleteStamp.after(rs.deleteStamp) && remoteDeleteStamp.after(latestFieldStamp(rs.fields)) {
			rs.deleted = true
			rs.deleteStamp = remoteDeleteStamp
			changed = true
		}
	}

	for f, uf := range u.Fields {
		remoteStamp := fieldStamp{Site: uf.Site, Counter: uf.Counter}
		local, ok := rs.fields[f]
		if !ok || remoteStamp.after(local.stamp) {
			rs.fields[f] = fieldValue{value: uf.Value, stamp: remoteStamp}
			if rs.deleted && remoteStamp.after(rs.deleteStamp) {
				rs.deleted = false
			}
			changed = true
		}
	}

	nowExists := rs.exists()
	var commit Commit
	ok := changed
	switch {
	case !ok:
	case nowExists && !existedBefore:
		commit = Commit{Table: u.Table, ID: u.ID, Kind: EventAdd, Row: rs.toRow()}
	case nowExists && existedBefore:
		commit = Commit{Table: u.Table, ID: u.ID, Kind: EventUpdate, Row: rs.toRow()}
	case !nowExists && existedBefore:
		commit = Commit{Table: u.Table, ID: u.ID, Kind: EventDelete}
	default:
		ok = false
	}

	d.mu.Unlock()
	if ok {
		d.notify([]Commit{commit})
	}
	return commit, ok
}

// latestFieldStamp returns the highest stamp among a row's own live fields,
// the baseline a remote tombstone must beat on every one of them before a
// delete is allowed to win over a concurrent update.
func latestFieldStamp(fields map[string]fieldValue) fieldStamp {
	var latest fieldStamp
	for _, fv := range fields {
		if fv.stamp.after(latest) {
			latest = fv.stamp
		}
	}
	return latest
}

// observeCounter folds a remote stamp's counter into the local Lamport
// clock, so a site that has merged a peer's write never turns around and
// issues a local stamp that collides with or precedes it.
func (d *Document) observeCounter(remote uint64) {
	if remote > d.counter {
		d.counter = remote
	}
}
