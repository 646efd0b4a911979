package host

import (
	"os"
	"sort"
)

// NoNetwork is listed when no trained network is available.
const NoNetwork = "None"

// DiscoverNetworks lists the network directories under jobsDir, sorted by
// name with preferred moved to the front when present. A missing or empty
// jobs directory yields []string{NoNetwork}.
func DiscoverNetworks(jobsDir, preferred string) []string {
	entries, err := os.ReadDir(jobsDir)
	if err != nil {
		return []string{NoNetwork}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return []string{NoNetwork}
	}
	sort.Strings(names)

	for i, n := range names {
		if n == preferred && i > 0 {
			copy(names[1:i+1], names[:i])
			names[0] = preferred
			break
		}
	}
	return names
}
