// Package inferd carries the version of the daemon and library.
package inferd

// Version is the semantic version of this release.
const Version = "0.1.1"
