// ABOUTME: Build version information
// ABOUTME: Identifies the daemon in zeroconf records and status replies
package version

// Version is overridden at link time with -ldflags "-X ...version.Version=..."
var Version = "0.3.0"

const (
	Product      = "resonated"
	Manufacturer = "Resonate Protocol"
)
