// Package channel manages live telemetry streams from devices.
//
// A device broadcasts named channels as server-sent events on
// /api/broadcast/data/{name}. The Manager keeps one channel per
// (address, name) pair, each with an append-only event buffer, an ordered
// subscriber list and a state:
//
//	idle -> connecting -> open -> error | timeout -> closed
//	                      open -> closed (Disconnect)
//
// Each event's data must be a JSON value. Frames that are not are dropped and
// recorded as a *ParseError; the stream stays open. A stream that fails or
// ends after opening moves the channel to error and is not retried.
//
// Disconnect keeps the buffer and subscribers, so a later Connect appends to
// the same history.
package channel
