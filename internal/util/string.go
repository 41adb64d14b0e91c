// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

// TruncateRunes shortens s to at most n runes, marking the cut with "..."
// when there is room for it.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	keep := n
	if n > len(ellipsis) {
		keep -= len(ellipsis)
	}
	for i := range s {
		if keep == 0 {
			s = s[:i]
			break
		}
		keep--
	}
	if n > len(ellipsis) {
		s += ellipsis
	}
	return s
}

// Preview collapses whitespace runs in s to single spaces and truncates the
// result, for log fields and one-line listings.
func Preview(s string, n int) string {
	return TruncateRunes(strings.Join(strings.Fields(s), " "), n)
}
