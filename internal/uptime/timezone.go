package uptime

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// ResolveZone returns the location for an IANA timezone name. Empty names
// resolve to UTC. Unknown or malformed names also resolve to UTC and report
// fellBack so callers can log it; a bad identifier never fails a store.
func ResolveZone(name string) (loc *time.Location, fellBack bool) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, false
	}
	// "Local" would make results depend on the host.
	if name == "Local" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, true
	}
	return loc, false
}
