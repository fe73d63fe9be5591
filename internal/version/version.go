// Package version holds the asimov build version.
package version

// Version is the semantic version of this build. Ledgers record the version
// that wrote them; loads refuse files written by a newer major version.
const Version = "0.6.0"
