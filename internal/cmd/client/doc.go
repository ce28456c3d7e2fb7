// Package client contains the Cobra commands of the eventpump CLI.
//
// Commands reach a running server through its HTTP API when --server (or
// $EVENTPUMP_SERVER) is set, and open the data directory directly otherwise.
// The server locks the data directory, so local runs need it stopped.
// `consumer status --grpc` queries a running server's health service.
//
// Usage
//
//	eventpump stream publish --stream orders-1 --type OrderPlaced \
//	    --data '{"amount":12}' --meta source=cli --expected-version 0
//	eventpump stream read --stream orders-1 --from 1 --limit 10
//	eventpump stream read --after 42
//	eventpump stream tail --filter '^orders-' --expr 'json.amount > 10.0'
//
//	eventpump consumer list
//	eventpump consumer status stats --grpc 127.0.0.1:50061
//	eventpump consumer start stats
//	eventpump consumer stop stats
//	eventpump consumer reset stats
//	eventpump consumer reset stats --server http://127.0.0.1:8061
package client
