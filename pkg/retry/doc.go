// Package retry provides exponential backoff with optional jitter.
//
// Do runs an operation until it succeeds, the attempts are exhausted, the
// context ends or the error is not retryable:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//		return client.Connect(ctx)
//	})
//
// Errors wrapped with NonRetryable end the loop immediately. Config.Retryable
// narrows the set further, which is how the Retrying sink only retries
// transient sink errors. Config.BeforeRetry runs between attempts; the
// Retrying sink uses it to reconnect the wrapped sink before the same batch
// is written again.
//
// All functions are safe for concurrent use.
package retry
