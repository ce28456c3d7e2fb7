// Package subscription turns an event log tail into a push subscription.
//
// Open starts one push session. NewRetry wraps it so that transient log
// failures re-subscribe from the last delivered position after a backoff,
// without the listener noticing. Only failures the retry layer gives up on
// reach Listener.OnError.
package subscription
