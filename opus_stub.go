//go:build !(darwin || linux) || noopus

package media

// IsOpusAvailable reports whether libopus could be loaded. Always false on
// this build.
func IsOpusAvailable() bool { return false }

// OpusVersion returns the libopus version string.
func OpusVersion() string { return "" }
