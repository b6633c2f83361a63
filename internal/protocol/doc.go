// Package protocol defines the wire formats shared by the primary device and
// a paired companion device.
//
// Stream messages travel over TCP as length-prefixed frames (4-byte
// big-endian length, then payload). Message bodies are lists of fields; each
// field is base64 encoded and fields are joined by a single space, so no
// field value can collide with the delimiter. Discovery beacons are plain
// space-delimited datagrams.
package protocol
