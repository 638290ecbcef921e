// Package websocket provides a sink that serves a WebSocket endpoint and
// broadcasts every written payload to the connected clients, one text frame
// per payload.
//
// Delivery is at-most-once. Writes made while no client is connected are
// discarded, and every client has a bounded queue that drops its oldest
// frames when the client reads too slowly, so one stalled viewer never
// blocks the pipeline. Clients are pinged periodically and removed when a
// write or ping fails.
//
//	sinks:
//	  - group: live
//	    name: viewer
//	    connect: websocket
//	    params:
//	      addr: ":8081"
//	      path: /ws
//	      format: json
//	      client_buffer: 512
package websocket
