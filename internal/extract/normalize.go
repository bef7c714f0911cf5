package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

var (
	birthdayRe = regexp.MustCompile(`(\d{1,2})\s*[月/]\s*(\d{1,2})\s*日?`)

	honorifics = []string{"さん", "くん", "君", "ちゃん", "様", "さま", "氏"}
)

// nameSpecialChars are rejected in names in addition to Unicode punctuation
// and symbols.
const nameSpecialChars = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?~`"

// fold maps full-width ASCII to its narrow form and half-width katakana to
// its wide form so a single rule table covers both.
func fold(s string) string {
	return width.Fold.String(s)
}

// normalizeBirthday converts "04月05日", "4/5" and similar to "4月5日".
// Values that do not look like a month/day pair are returned trimmed.
func normalizeBirthday(raw string) string {
	s := strings.TrimSpace(raw)
	m := birthdayRe.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	month, err1 := strconv.Atoi(m[1])
	day, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return s
	}
	return strconv.Itoa(month) + "月" + strconv.Itoa(day) + "日"
}

// normalizeName strips one trailing honorific.
func normalizeName(raw string) string {
	s := strings.TrimSpace(raw)
	for _, h := range honorifics {
		if strings.HasSuffix(s, h) && len(s) > len(h) {
			return strings.TrimSuffix(s, h)
		}
	}
	return s
}

// rejectName reports why a captured name is not acceptable, or "" if it is.
func rejectName(name string, blacklist []string) string {
	for _, tok := range blacklist {
		if tok != "" && strings.Contains(name, tok) {
			return "blacklisted token " + tok
		}
	}
	n := len([]rune(name))
	if n < 2 {
		return "too short"
	}
	if n > 20 {
		return "too long"
	}
	allDigits := true
	for _, r := range name {
		if !unicode.IsDigit(r) {
			allDigits = false
		}
		if strings.ContainsRune(nameSpecialChars, r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return "contains special characters"
		}
	}
	if allDigits {
		return "purely numeric"
	}
	return ""
}
