// Package imagematch decides firmware image identity: whether a vendor
// version string denotes the same release as an image filename, and which
// flash files are candidates for deletion.
package imagematch

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// Extended vendor form, e.g. 15.2(4)E6.
	extendedRe = regexp.MustCompile(`^(\d+)\.(\d+)\((\d+)\)([A-Z])(\d+)`)
	// Plain dotted form, e.g. 17.6.2.
	simpleRe = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)
)

// MatchVersion reports whether a version number appears in target in any of
// its encodings.
//
// Extended versions like "15.2(4)E6" match both the parenthesized form and
// the hyphen encoding "152-4.E6" used inside filenames. Dotted versions like
// "17.6.2" tolerate a zero-padded patch ("17.6.02") but never match a longer
// number such as "17.6.20".
func MatchVersion(version, target string) bool {
	if version == "" || target == "" {
		return false
	}

	if m := extendedRe.FindStringSubmatch(version); m != nil {
		major, minor, patch, train, trainNum := m[1], m[2], m[3], m[4], m[5]
		patterns := []string{
			fmt.Sprintf(`%s\.%s\(%s\)%s%s`, major, minor, patch, train, trainNum),
			fmt.Sprintf(`%s%s-%s\.%s%s`, major, minor, patch, train, trainNum),
		}
		for _, p := range patterns {
			if regexp.MustCompile(p).MatchString(target) {
				return true
			}
		}
		return false
	}

	m := simpleRe.FindStringSubmatch(version)
	if m == nil {
		return false
	}
	major, minor, patch := m[1], m[2], m[3]

	// RE2 has no lookahead, so the "not followed by another digit" guard is
	// checked on the byte after each match instead.
	re := regexp.MustCompile(fmt.Sprintf(`%s\.%s\.0?%s`, major, minor, patch))
	for _, loc := range re.FindAllStringIndex(target, -1) {
		end := loc[1]
		if end >= len(target) || target[end] < '0' || target[end] > '9' {
			return true
		}
	}
	return false
}

// CandidatePattern matches generic image-file names: anything sharing the
// first five characters of the primary image, or any .bin file.
func CandidatePattern(primaryImage string) *regexp.Regexp {
	prefix := primaryImage
	if len(prefix) > 5 {
		prefix = prefix[:5]
	}
	return regexp.MustCompile(`^(?:` + regexp.QuoteMeta(prefix) + `.+|\S+\.bin$)`)
}

// ShouldDelete applies the three-way deletion guard: never the primary
// image, never the running image, and never a file whose name carries the
// currently installed version under a different packaging.
func ShouldDelete(name, primaryImage, currentImage, osVersion string) bool {
	return name != primaryImage &&
		name != currentImage &&
		!MatchVersion(osVersion, name)
}

// Candidates filters a flash file listing down to deletable images: names
// matching the generic image shape that pass the deletion guard. The result
// is sorted and free of duplicates.
func Candidates(names []string, primaryImage, currentImage, osVersion string) []string {
	pattern := CandidatePattern(primaryImage)
	seen := make(map[string]struct{})
	for _, name := range names {
		if !pattern.MatchString(name) {
			continue
		}
		if !ShouldDelete(name, primaryImage, currentImage, osVersion) {
			continue
		}
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CandidatesFromListing extracts file names from a raw "show flash" style
// listing and applies Candidates to them. Tokens are considered
// individually, so size and date columns never leak into a file name.
func CandidatesFromListing(listing string, primaryImage, currentImage, osVersion string) []string {
	var names []string
	for _, line := range strings.Split(listing, "\n") {
		for _, token := range strings.Fields(line) {
			names = append(names, token)
		}
	}
	return Candidates(names, primaryImage, currentImage, osVersion)
}
