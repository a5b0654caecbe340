// Package provider implements the Provider Lifecycle: capabilities attached
// to a workspace's CRDT document after every materializer has subscribed
// and completed its initial pull (spec.md §4.10, §5). Two concrete
// providers are implemented: Persistence (load/save serialized CRDT bytes
// via go.etcd.io/bbolt, grounded on the teacher's pkg/storage/boltdb.go
// open/close lifecycle) and Sync (bidirectional WebSocket byte-stream
// exchange of CRDT updates, grounded on the teacher's pkg/api/server.go
// connection-handling idiom applied to gorilla/websocket).
package provider

import "github.com/epicenterlabs/epicenter/pkg/crdt"

// Provider is satisfied by every capability attached to a workspace's
// document. Attach is called once, after materializers have subscribed;
// Close releases any held resources (file handles, sockets).
type Provider interface {
	Name() string
	Attach(doc *crdt.Document) error
	Close() error
}
