// Package projections contains the consumers shipped with eventpump.
//
//   - stream-stats counts events per stream and per type in Pebble. It
//     remembers the last applied position, so redelivered events are
//     ignored.
//   - event-log writes every envelope to the structured log.
package projections
