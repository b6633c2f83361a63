// Package git checks whether vault files are exposed to git.
//
// Tracked vault files are plaintext whenever a session is open, so they
// should never be committed and should be covered by a .gitignore rule.
// Files are checked in their own directory, so files spread over several
// repositories are each checked against the right one.
package git
