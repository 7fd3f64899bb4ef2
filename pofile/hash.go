package pofile

import (
	"strings"
	"unicode"
)

// Classifier thresholds for opaque message identifiers. Catalogs produced
// by hashing extractors use short tokens such as "hzSNj4" as msgid.
const (
	hashMinLen = 4
	hashMaxLen = 32
	// hashMaxLowerRun rejects tokens containing lowercase words.
	hashMaxLowerRun = 4
	// HashFileRatio is the share of msgids that must look hashed for the
	// whole file to count as hash-based.
	HashFileRatio = 0.8
)

// LooksLikeHash reports whether s is shaped like an opaque identifier:
// a single token of letters, digits, '_' or '-' mixing at least two of
// upper case, lower case and digits, without natural-language runs.
func LooksLikeHash(s string) bool {
	if len(s) < hashMinLen || len(s) > hashMaxLen {
		return false
	}
	var upper, lower, digit, hexOnly = false, false, false, true
	lowerRun, maxLowerRun := 0, 0
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
			lowerRun++
			maxLowerRun = max(maxLowerRun, lowerRun)
			if r > 'f' {
				hexOnly = false
			}
			continue
		case r >= 'A' && r <= 'Z':
			upper = true
			hexOnly = false
		case r >= '0' && r <= '9':
			digit = true
		case r == '_' || r == '-':
			hexOnly = false
		default:
			return false
		}
		lowerRun = 0
	}

	// Hex digests: lowercase a-f runs are common and carry no meaning.
	if hexOnly && digit && len(s) >= 8 {
		return true
	}

	classes := 0
	for _, b := range []bool{upper, lower, digit} {
		if b {
			classes++
		}
	}
	if classes < 2 || maxLowerRun > hashMaxLowerRun {
		return false
	}
	if isTitleWord(s) || isScreamingSnake(s) {
		return false
	}
	return true
}

// isTitleWord matches "Save", "Cancel2" style words.
func isTitleWord(s string) bool {
	rs := []rune(s)
	if !unicode.IsUpper(rs[0]) {
		return false
	}
	for _, r := range rs[1:] {
		if !unicode.IsLower(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// isScreamingSnake matches constant-style keys like "ERROR_404".
func isScreamingSnake(s string) bool {
	return strings.ContainsRune(s, '_') && strings.ToUpper(s) == s
}

// IsHashBased reports whether the active msgids of the file are
// predominantly opaque identifiers.
func (f *File) IsHashBased() bool {
	return hashShare(msgids(f)) >= HashFileRatio
}

func msgids(f *File) []string {
	var out []string
	for _, e := range f.ActiveEntries() {
		out = append(out, e.MsgID)
	}
	return out
}

// hashShare returns the fraction of values that look hashed, ignoring
// empty values. It is 0 when no value is set.
func hashShare(values []string) float64 {
	total, hashed := 0, 0
	for _, v := range values {
		if v == "" {
			continue
		}
		total++
		if LooksLikeHash(v) {
			hashed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hashed) / float64(total)
}
