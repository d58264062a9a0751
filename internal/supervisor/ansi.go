package supervisor

import "regexp"

// ansiColor matches SGR colour sequences with one or two numeric parameters,
// e.g. "\x1b[32m" or "\x1b[1;31m".
var ansiColor = regexp.MustCompile(`\x1b\[\d{1,2}(;\d{1,2})?m`)

// StripANSI removes terminal colour sequences from s. Applying it to an
// already clean string returns the string unchanged.
func StripANSI(s string) string {
	return ansiColor.ReplaceAllString(s, "")
}
