// Package kafka provides a partition source and a producer sink on
// confluent-kafka-go.
//
// A Source reads one topic partition through a manually assigned consumer.
// Event ids are Kafka offsets, so Ack(source.Offset(ev.ID)) commits the
// offset after that event for the consumer group and Seek(source.Offset(o))
// restarts delivery at o. A spec naming several partitions builds one
// source per partition.
//
// The Sink produces every write as one message and waits for the delivery
// report of each batch before returning, so a successful batch is stored
// in order on the broker.
//
//	sources:
//	  - name: orders
//	    connect: kafka
//	    params:
//	      brokers: localhost:9092
//	      topic: orders
//	      group: wpipe
//	      partitions: [0, 1]
package kafka
