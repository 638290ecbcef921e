// Package file provides the file connectors.
//
// The source reads a file line by line. Every event id is the byte offset
// just past its line, so an event id is also a valid Offset for Ack and
// Seek. Acknowledged offsets are persisted in a cursor file and a restarted
// source resumes from there. With tail enabled the source keeps waiting at
// end of file and is woken by fsnotify when the file grows.
//
// The sink buffers rendered lines and writes them in order, flushing when
// the buffer fills and on a fixed interval:
//
//	sinks:
//	  - name: archive
//	    kind: file
//	    params:
//	      path: /var/log/wpipe/archive.jsonl
//	      format: json
//	      append: true
//	      buffer_size: 100
//
// URLs of the form file:///path?format=kv are accepted by Adapter.
package file
