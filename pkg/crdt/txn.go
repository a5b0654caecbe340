package crdt

// opKind identifies a single mutation recorded in a transaction, before it
// is reduced to a net Commit at commit time.
type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
	opKVSet
	opKVDelete
)

type pendingOp struct {
	kind  opKind
	table string
	id    string
	key   string
	patch map[string]any // full row for insert, partial fields for update
}

// Txn groups multiple mutations so that observers fire once per affected
// row after the whole group commits, coalescing intra-transaction effects:
// an insert followed by a delete of the same id fires neither; an insert
// followed by multiple updates fires one add event with the final state.
type Txn struct {
	doc *Document
	ops []pendingOp
}

// Insert stages a full-row insert. Semantics (id-conflict etc.) are
// enforced by pkg/table before the op reaches the CRDT; the CRDT itself
// always creates or overwrites the row-level map (LWW on row creation).
func (tx *Txn) Insert(table, id string, row Row) {
	tx.ops = append(tx.ops, pendingOp{kind: opInsert, table: table, id: id, patch: row})
}

// Upsert stages an unconditional full-row write.
func (tx *Txn) Upsert(table, id string, row Row) {
	tx.Insert(table, id, row)
}

// Update stages a partial field patch against an existing row.
func (tx *Txn) Update(table, id string, patch map[string]any) {
	tx.ops = append(tx.ops, pendingOp{kind: opUpdate, table: table, id: id, patch: patch})
}

// Delete stages a row deletion. Deleting a row that does not exist is a
// no-op (idempotent).
func (tx *Txn) Delete(table, id string) {
	tx.ops = append(tx.ops, pendingOp{kind: opDelete, table: table, id: id})
}

// KVSet stages a kv entry write.
func (tx *Txn) KVSet(key string, value any) {
	tx.ops = append(tx.ops, pendingOp{kind: opKVSet, key: key, patch: map[string]any{"value": value}})
}

// KVDelete stages a kv entry removal.
func (tx *Txn) KVDelete(key string) {
	tx.ops = append(tx.ops, pendingOp{kind: opKVDelete, key: key})
}

type rowKey struct{ table, id string }

type pendingRow struct {
	existedBefore bool
	insertedInTxn bool
	deletedInTxn  bool
	fields        map[string]any
	order         int
}

// Txn runs fn against a new transaction and, if fn returns nil, commits the
// staged mutations atomically: the document is updated, and exactly one
// coalesced Commit per affected row is delivered to every subscriber.
func (d *Document) Txn(fn func(tx *Txn) error) error {
	tx := &Txn{doc: d}
	if err := fn(tx); err != nil {
		return err
	}

	d.mu.Lock()

	pending := make(map[rowKey]*pendingRow)
	order := make([]rowKey, 0, len(tx.ops))
	kvTouched := make(map[string]bool)

	touch := func(k rowKey) *pendingRow {
		pr, ok := pending[k]
		if !ok {
			existing := d.tables[k.table][k.id]
			pr = &pendingRow{existedBefore: existing.exists(), order: len(order)}
			if pr.existedBefore {
				pr.fields = map[string]any(existing.toRow())
			} else {
				pr.fields = map[string]any{}
			}
			pending[k] = pr
			order = append(order, k)
		}
		return pr
	}

	for _, op := range tx.ops {
		switch op.kind {
		case opInsert:
			k := rowKey{op.table, op.id}
			pr := touch(k)
			pr.insertedInTxn = true
			pr.deletedInTxn = false
			pr.fields = map[string]any{}
			for f, v := range op.patch {
				pr.fields[f] = v
			}
		case opUpdate:
			k := rowKey{op.table, op.id}
			pr := touch(k)
			for f, v := range op.patch {
				pr.fields[f] = v
			}
		case opDelete:
			k := rowKey{op.table, op.id}
			pr := touch(k)
			pr.deletedInTxn = true
		case opKVSet:
			d.kv[op.key] = fieldValue{value: op.patch["value"], stamp: d.nextStamp()}
			kvTouched[op.key] = true
		case opKVDelete:
			delete(d.kv, op.key)
			kvTouched[op.key] = true
		}
	}

	commits := make([]Commit, 0, len(order))
	for _, k := range order {
		pr := pending[k]
		commit, fire := reduce(k, pr)
		if !fire {
			continue
		}
		d.applyReduced(k, pr, commit.Kind)
		commits = append(commits, commit)
	}

	d.mu.Unlock()
	d.notify(commits)
	return nil
}

// reduce decides the net observable event for a row touched within a
// transaction, implementing the coalescing rules of invariant 4.3:
// insert+delete -> nothing; insert+updates -> one add with final state;
// updates only -> one update; delete of a row that never existed -> nothing.
func reduce(k rowKey, pr *pendingRow) (Commit, bool) {
	switch {
	case pr.deletedInTxn && pr.insertedInTxn:
		return Commit{}, false
	case pr.deletedInTxn && pr.existedBefore:
		return Commit{Table: k.table, ID: k.id, Kind: EventDelete}, true
	case pr.deletedInTxn:
		return Commit{}, false
	case pr.insertedInTxn:
		return Commit{Table: k.table, ID: k.id, Kind: EventAdd, Row: Row(pr.fields)}, true
	default:
		return Commit{Table: k.table, ID: k.id, Kind: EventUpdate, Row: Row(pr.fields)}, true
	}
}

// applyReduced writes the transaction's net effect for one row into the
// document's durable state, stamping every touched field with a fresh
// vector-clock entry for this site.
func (d *Document) applyReduced(k rowKey, pr *pendingRow, kind EventKind) {
	if kind == EventDelete {
		rs := d.tables[k.table][k.id]
		if rs == nil {
			rs = &rowState{fields: map[string]fieldValue{}}
			ensureTable(d, k.table)
			d.tables[k.table][k.id] = rs
		}
		rs.deleted = true
		rs.deleteStamp = d.nextStamp()
		return
	}

	ensureTable(d, k.table)
	rs := d.tables[k.table][k.id]
	if rs == nil {
		rs = &rowState{fields: map[string]fieldValue{}}
		d.tables[k.table][k.id] = rs
	}
	rs.deleted = false
	stamp := d.nextStamp()
	for f, v := range pr.fields {
		rs.fields[f] = fieldValue{value: v, stamp: stamp}
	}
}

func ensureTable(d *Document, table string) {
	if d.tables[table] == nil {
		d.tables[table] = make(map[string]*rowState)
	}
}
