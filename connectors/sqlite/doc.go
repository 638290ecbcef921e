// Package sqlite provides a record sink that appends to a SQLite table
// through modernc.org/sqlite (pure Go, no cgo).
//
// Every write is one transaction: a batch is either stored completely, in
// order, or not at all. Rows carry an autoincrement seq, the write time,
// the payload kind ("record" or "raw") and the body. Records are stored as
// JSON; configured columns additionally receive the value of the field of
// the same name so they can be indexed and queried directly.
//
//	sinks:
//	  - group: archive
//	    name: db
//	    connect: sqlite
//	    params:
//	      path: events.db
//	      table: events
//	      columns: [src_ip, status]
package sqlite
