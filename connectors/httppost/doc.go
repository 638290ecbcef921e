// Package httppost provides a sink that delivers every write as one HTTP
// POST request.
//
// A batch becomes one request body. With the default "lines" framing the
// payloads are joined by newlines (NDJSON when the record format is json);
// "array" framing sends a JSON array, embedding json records as objects and
// raw writes as strings.
//
// Network errors, 429 and 5xx responses are retried with exponential
// backoff and reported as transient sink errors once the attempts run out,
// so the sink wrapper reconnects and replays the batch. Other 4xx responses
// are data errors and are not retried.
//
//	sinks:
//	  - group: alerts
//	    name: webhook
//	    connect: http
//	    params:
//	      url: https://hooks.example.com/wpipe
//	      headers: {Authorization: "Bearer abc"}
//	      retry_count: 3
//	      tls_ca_files: [/etc/wpipe/ca.pem]
package httppost
