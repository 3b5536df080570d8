package negotiation

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/mod/semver"
)

// VersionUnsupported is the error code for a major version mismatch.
const VersionUnsupported = "VERSION_UNSUPPORTED"

// VersionError is returned when two parties disagree on the major version.
type VersionError struct {
	Code     string
	Message  string
	Local    string
	Reported string
}

func (e *VersionError) Error() string {
	return e.Message
}

// Compatible checks that reported shares local's major version.
// Empty reported = accept. Non-semver strings fall back to equality.
func Compatible(local, reported string) error {
	if reported == "" {
		return nil
	}

	lv := normalizeVersion(local)
	rv := normalizeVersion(reported)

	if !semver.IsValid(lv) || !semver.IsValid(rv) {
		if local == reported {
			return nil
		}
		return versionError(local, reported)
	}

	if semver.Major(lv) != semver.Major(rv) {
		return versionError(local, reported)
	}
	return nil
}

func versionError(local, reported string) *VersionError {
	return &VersionError{
		Code:     VersionUnsupported,
		Message:  fmt.Sprintf("version %s is incompatible with %s", reported, local),
		Local:    local,
		Reported: reported,
	}
}

// normalizeVersion adds "v" prefix if needed for semver parsing.
func normalizeVersion(v string) string {
	if v == "" {
		return "v0.0.0"
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}

// APIVersionChecker inspects backend Cart-API headers and warns once per
// distinct incompatible version. Safe for concurrent use.
type APIVersionChecker struct {
	expected string
	logger   *slog.Logger

	mu     sync.Mutex
	warned map[string]bool
}

// NewAPIVersionChecker creates a checker for the backend API version this
// client was built against.
func NewAPIVersionChecker(expected string, logger *slog.Logger) *APIVersionChecker {
	return &APIVersionChecker{
		expected: expected,
		logger:   logger,
		warned:   make(map[string]bool),
	}
}

// Check parses header and logs if the version is incompatible.
// Returns the reported version ("" when absent or unparseable).
func (c *APIVersionChecker) Check(header string) string {
	if header == "" {
		return ""
	}

	version, err := ParseCartAPIHeader(header)
	if err != nil {
		c.warnOnce("malformed:"+header, "malformed Cart-API header",
			slog.String("header", header),
			slog.String("error", err.Error()))
		return ""
	}

	if err := Compatible(c.expected, version); err != nil {
		c.warnOnce(version, "incompatible backend cart API version",
			slog.String("expected", c.expected),
			slog.String("reported", version))
	}
	return version
}

func (c *APIVersionChecker) warnOnce(key, msg string, attrs ...any) {
	c.mu.Lock()
	seen := c.warned[key]
	c.warned[key] = true
	c.mu.Unlock()

	if !seen {
		c.logger.Warn(msg, attrs...)
	}
}
