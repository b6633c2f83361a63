// Package pairing authorises companion devices and establishes the
// proximity session with them.
//
// Pairing runs in two phases. Bootstrap: the unlocked primary publishes a
// payload (normally rendered as a QR code) and listens for one REGISTER
// message encrypted under a transport key derived from the user's password.
// Session: a registered companion announces itself with a UDP beacon, the
// primary seals a fresh session key to the companion's public key and the
// companion answers with the file key, encrypted under the session key.
// From then on the companion sends encrypted heartbeats over the same
// connection.
package pairing
