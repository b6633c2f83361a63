// Package heartbeat detects loss of proximity to a paired device.
//
// A Monitor holds one re-armable deadline. Every accepted heartbeat pushes
// the deadline out by the full timeout; when it passes with no heartbeat the
// expiry callback runs, exactly once per Start.
package heartbeat
