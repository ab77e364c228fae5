package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Variable-token patterns applied during message normalization, in
// order: UUIDs first (their segments would otherwise fall to the hex
// and digit rules), then IPv4 addresses, long hex runs, digit runs.
// Messages are lowercased before matching.
var (
	uuidRe       = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	ipv4Re       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	longHexRe    = regexp.MustCompile(`\b[0-9a-f]{8,}\b`)
	digitsRe     = regexp.MustCompile(`\d+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeMessage rewrites the variable parts of an error message to
// stable tokens so repeats of the same fault hash identically.
func NormalizeMessage(message string) string {
	s := strings.ToLower(message)
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	s = uuidRe.ReplaceAllString(s, "<uuid>")
	s = ipv4Re.ReplaceAllString(s, "<ip>")
	// Hex runs are replaced only when they contain a digit; a run of
	// pure hex letters is more often a word than an identifier.
	s = longHexRe.ReplaceAllStringFunc(s, func(m string) string {
		if strings.ContainsAny(m, "0123456789") {
			return "<hex>"
		}
		return m
	})
	s = digitsRe.ReplaceAllString(s, "<n>")
	return s
}

// Fingerprint derives the ErrorGroup identity for one error event.
func Fingerprint(serviceName, errorClass, message string) string {
	sum := sha256.Sum256([]byte(serviceName + "|" + errorClass + "|" + NormalizeMessage(message)))
	return hex.EncodeToString(sum[:])
}
