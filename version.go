package espwifi

import (
	"strconv"
	"strings"
)

// Version is the version of the AT command firmware.
type Version struct {
	Major, Minor, Patch uint8
}

// DefaultMinVersion is the oldest AT firmware the driver was written for.
var DefaultMinVersion = Version{2, 0, 0}

func (v Version) String() string {
	return strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor)) +
		"." + strconv.Itoa(int(v.Patch))
}

// Less reports whether v is older than o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// IsZero reports whether v is the zero version (unknown).
func (v Version) IsZero() bool {
	return v == Version{}
}

// ParseVersion parses "2.2.0" or "2.2.0.0" (the fourth component is
// ignored).
func ParseVersion(s string) (Version, bool) {
	var (
		v   Version
		vvv [3]*uint8
	)
	vvv[0], vvv[1], vvv[2] = &v.Major, &v.Minor, &v.Patch
	parts := strings.SplitN(s, ".", 4)
	if len(parts) < 3 {
		return Version{}, false
	}
	for i, p := range vvv {
		u, err := strconv.ParseUint(parts[i], 10, 8)
		if err != nil {
			return Version{}, false
		}
		*p = uint8(u)
	}
	return v, true
}

const gmrPrefix = "AT version:"

// versionFromGMR finds the "AT version:2.2.0.0(...)" line in the AT+GMR
// response.
func versionFromGMR(lines []string) (Version, bool) {
	for _, line := range lines {
		if !strings.HasPrefix(line, gmrPrefix) {
			continue
		}
		s := line[len(gmrPrefix):]
		if i := strings.IndexAny(s, "( -"); i >= 0 {
			s = s[:i]
		}
		return ParseVersion(s)
	}
	return Version{}, false
}
