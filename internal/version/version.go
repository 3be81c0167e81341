// ABOUTME: Product and version identification
// ABOUTME: Reported by --version, logs and mDNS advertisements
package version

import "fmt"

const (
	Product      = "pcmlink"
	Manufacturer = "Resonate Protocol"
)

// Version is overridden at build time with -ldflags "-X .../version.Version=x.y.z"
var Version = "0.1.0"

// String returns the product and version in one line
func String() string {
	return fmt.Sprintf("%s %s", Product, Version)
}
