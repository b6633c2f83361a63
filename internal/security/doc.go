// Package security validates the file paths a user places under vault
// protection.
package security
