// Package eventconsumer runs durable event consumers.
//
// An Actor owns one Consumer, one subscription to the event log and one
// persisted State. Lifecycle commands (Start, Stop, Reset) and subscription
// callbacks are funneled through a single-worker dispatcher, so state is
// only ever touched by one goroutine. Every step ends with a snapshot write;
// on restart Activate and Setup resume a Started consumer from its last
// handled position. Delivery is at-least-once.
//
// Status transitions:
//
//	Stopped --Start--> Started --Stop--> Stopped
//	Started --failure--> Failed --Stop--> Stopped
//	any --Reset--> Started (position cleared; Stopped under ResetStop)
//
// A Failed consumer stays failed: Start is a no-op until it is stopped or
// reset.
package eventconsumer
