// ABOUTME: Version constants for the player
// ABOUTME: Product identity reported in logs and the TUI header
package version

const (
	// Version is the player release version
	Version = "0.1.0"

	// Product is the product name
	Product = "ILDAPlay"

	// Manufacturer identifies the project
	Manufacturer = "OpenILDA"
)
