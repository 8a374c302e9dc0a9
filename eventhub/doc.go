// Package eventhub maintains the client's single logical connection to the
// hearing event hub and dispatches typed server-push events.
//
// # Connection lifecycle
//
//	Disconnected -> Connecting -> Connected
//	                          \-> Disconnected -> (scheduled retry)
//	Connected -> Reconnecting -> Connecting -> ...
//
// A failed connect, or a transport drop while connected, schedules another
// attempt using a fixed Schedule of delays indexed by attempt number. There is
// no jitter and no growth beyond the table. Once the attempt counter runs past
// the end of the schedule the channel gives up: the ErrorReporter is told
// exactly once and nothing further happens until either Start is called
// again (typically because the network monitor reported the client online)
// or the user asks to reconnect.
//
// # Events
//
// Every server message is an invocation frame: a target name and positional
// arguments. decodeEvent is the single place that maps a frame onto one of
// the closed set of Event types. A connection owns exactly one read loop,
// registered when the connection comes up and torn down on Stop or drop.
//
// # Wire formats
//
// JSONCodec encodes frames as {"target": ..., "arguments": [...]} text
// messages; CBORCodec uses the same shape in binary messages.
package eventhub
