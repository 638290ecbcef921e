// Package udp provides a datagram source. A read loop copies every
// datagram into a bounded ring buffer; Receive and TryReceive drain it in
// batches, one event per datagram with the sender address as UpstreamIP.
//
// UDP has no delivery guarantee, so the source cannot ack or seek. When
// consumers fall behind the buffer's overflow policy decides which
// datagrams are lost (drop_oldest by default).
//
//	sources:
//	  - name: syslog
//	    connect: udp
//	    params:
//	      addr: 0.0.0.0:514
//	      batch_size: 256
//	      buffer_size: 8192
package udp
