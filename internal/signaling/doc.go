// Package signaling is the WebSocket surface of the pairing server.
//
// Each connection gets an id, a bounded outbound queue and a read/write pump
// pair. Inbound frames are decoded into join/leave/stop commands for the
// lifecycle manager or into signal/ice-candidate envelopes that are relayed
// verbatim to the addressed connection. The Registry is the manager's
// Deliverer: it only enqueues and never blocks.
package signaling
