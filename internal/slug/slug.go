// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package slug derives category URL codes from names.
package slug

import (
	"strconv"
	"strings"
	"unicode"
)

// MaxLength bounds a generated URL code in runes.
const MaxLength = 255

// Generate turns a category name into a URL code: lower case, letters and
// digits of any script kept, every other run of characters collapsed into
// one hyphen. Purely numeric results get a "c-" prefix so they never look
// like a category ID.
// Example: "News & Announcements 2026" → "news-announcements-2026"
func Generate(s string) string {
	var b strings.Builder
	pendingHyphen := false
	n := 0
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			pendingHyphen = true
			continue
		}
		hyphen := pendingHyphen && n > 0
		width := 1
		if hyphen {
			width = 2
		}
		if n+width > MaxLength {
			break
		}
		if hyphen {
			b.WriteByte('-')
		}
		b.WriteRune(r)
		n += width
		pendingHyphen = false
	}
	code := b.String()
	if IsNumeric(code) {
		code = "c-" + code
	}
	return code
}

// Unique returns base, or base with the smallest "-N" suffix (N ≥ 2) that
// taken reports as free.
func Unique(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "-" + strconv.Itoa(i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// IsNumeric reports whether s is a non-empty run of ASCII digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
