package adapter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rlorentegh/tramitador/internal/filing"
)

// Canonical case numbers look like "RRC-2024/000123".
var (
	canonicalCasePattern = regexp.MustCompile(`^RRC-\d{4}/\d{6}$`)
	looseCasePattern     = regexp.MustCompile(`(?i)^\s*RRC[\s./-]*(\d{4})[\s./-]+(\d{1,6})\s*$`)
)

// CaseNumberValid reports whether the identifier is already canonical.
func CaseNumberValid(caseNumber string) bool {
	return canonicalCasePattern.MatchString(caseNumber)
}

// RepairCaseNumber canonicalizes a malformed case identifier. The transform
// is deterministic and idempotent: canonical input comes back unchanged, and
// anything unparseable returns filing.ErrMalformedCase so the caller drops
// the resource after one attempt.
func RepairCaseNumber(caseNumber string) (string, error) {
	if CaseNumberValid(caseNumber) {
		return caseNumber, nil
	}
	m := looseCasePattern.FindStringSubmatch(strings.ToUpper(caseNumber))
	if m == nil {
		return "", fmt.Errorf("repair case number %q: %w", caseNumber, filing.ErrMalformedCase)
	}
	serial, err := strconv.Atoi(m[2])
	if err != nil {
		return "", fmt.Errorf("repair case number %q: %w", caseNumber, filing.ErrMalformedCase)
	}
	return fmt.Sprintf("RRC-%s/%06d", m[1], serial), nil
}
