// Package banner renders the vocrf startup banner printed to stderr.
package banner

import "fmt"

const art = `
 _  ______  ___________
| |/ / __ \/ ____/ __/
|   / / / / /   / /_
/   / /_/ / /___/ __/
/_/|_\____/\____/_/
`

// Banner returns the startup banner for the given version string.
func Banner(version string) string {
	return fmt.Sprintf("%s  variable-order CRF trainer/tagger %s\n\n", art, version)
}
