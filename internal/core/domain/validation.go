package domain

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Validation Helpers

var (
	cveRegex       = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)
	techniqueRegex = regexp.MustCompile(`^T\d{4}(\.\d{3})?$`)
)

// ErrInvalidRecord marks a record rejected before it reaches storage.
var ErrInvalidRecord = errors.New("invalid record")

// IsValidCVE checks if the string looks like a CVE identifier.
func IsValidCVE(id string) bool {
	return cveRegex.MatchString(id)
}

// IsValidTechniqueID checks if the string is an ATT&CK technique or sub-technique id.
func IsValidTechniqueID(id string) bool {
	return techniqueRegex.MatchString(id)
}

// IsValidIP checks if the string parses as an IPv4 or IPv6 address.
func IsValidIP(ip string) bool {
	return net.ParseIP(strings.TrimSpace(ip)) != nil
}

// NormalizeIP returns the canonical form of an address, or the input
// unchanged when it does not parse.
func NormalizeIP(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ip
	}
	return parsed.String()
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

// Validate checks the fields required to merge a vulnerability.
func (v Vulnerability) Validate() error {
	if !IsValidCVE(v.ID) {
		return invalid("vulnerability id %q", v.ID)
	}
	if v.LastModified.IsZero() {
		return invalid("%s: missing last modified time", v.ID)
	}
	if v.Severity != nil && (*v.Severity < 0 || *v.Severity > 10) {
		return invalid("%s: severity %.1f out of range", v.ID, *v.Severity)
	}
	return nil
}

// Validate checks the fields required to merge an exploited entry.
func (e ExploitedEntry) Validate() error {
	if !IsValidCVE(e.CVEID) {
		return invalid("exploited entry id %q", e.CVEID)
	}
	if e.DateAdded.IsZero() {
		return invalid("%s: missing date added", e.CVEID)
	}
	return nil
}

// Validate checks the fields required to merge an IP reputation record.
func (r IPReputation) Validate() error {
	if !IsValidIP(r.IPAddress) {
		return invalid("ip address %q", r.IPAddress)
	}
	if r.AbuseConfidenceScore < 0 || r.AbuseConfidenceScore > 100 {
		return invalid("%s: confidence %d out of range", r.IPAddress, r.AbuseConfidenceScore)
	}
	if r.TotalReports < 0 {
		return invalid("%s: negative report count", r.IPAddress)
	}
	return nil
}

// Validate checks the fields required to merge an exploitation score.
func (s ExploitationScore) Validate() error {
	if !IsValidCVE(s.CVEID) {
		return invalid("score id %q", s.CVEID)
	}
	if s.Score < 0 || s.Score > 1 {
		return invalid("%s: score %.4f out of range", s.CVEID, s.Score)
	}
	if s.Percentile < 0 || s.Percentile > 1 {
		return invalid("%s: percentile %.4f out of range", s.CVEID, s.Percentile)
	}
	return nil
}
