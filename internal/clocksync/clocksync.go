// Package clocksync estimates the offset between the server's wall clock and
// a client's, so a client can render a countdown against a server-supplied
// start timestamp.
//
// The exchange is a single round trip done once per connection: the client
// sends its local send timestamp, the server echoes it back alongside its own
// clock. Estimation error persists for the connection's lifetime, which is
// acceptable over a 150-second timer horizon.
package clocksync

// Request is the sync message a client sends right after connecting,
// carrying its local send timestamp in epoch milliseconds.
type Request struct {
	Type       string `json:"type"`
	ClientTime int64  `json:"clientTime"`
}

// Reply is the server's direct answer: the client timestamp echoed back plus
// the server's current clock.
type Reply struct {
	Type       string `json:"type"`
	ClientTime int64  `json:"clientTime"`
	ServerTime int64  `json:"serverTime"`
}

// MessageType tags sync messages in both directions.
const MessageType = "sync"

// EstimateOffset computes the estimated server-minus-client clock delta in
// milliseconds from one sync round trip, assuming symmetric network latency.
//
// sentAt and receivedAt are client-clock timestamps taken when the request
// left and when the reply arrived; serverTime is the server clock echoed in
// the reply. The result approximates serverTime - (sentAt+receivedAt)/2.
func EstimateOffset(sentAt, serverTime, receivedAt int64) (offset, rtt int64) {
	rtt = receivedAt - sentAt
	offset = serverTime - receivedAt + rtt/2
	return offset, rtt
}
