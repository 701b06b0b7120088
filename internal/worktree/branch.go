package worktree

import (
	"fmt"
	"strings"
	"unicode"
)

const maxSlugLength = 50

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single hyphen, trimming the result to maxLen runes.
func Slugify(s string, maxLen int) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) || r > unicode.MaxASCII {
			pendingHyphen = true
		}
	}

	slug := b.String()
	if maxLen > 0 && len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "-")
	}
	return slug
}

// BranchName returns the fix branch for an issue: <prefix>/<number>-<slug>.
// The issue number keeps names unique even when titles collide or slug to
// nothing.
func BranchName(prefix string, number int, title string) string {
	stem := BranchStem(prefix, number)
	slug := Slugify(title, maxSlugLength)
	if slug == "" {
		return stem
	}
	return stem + "-" + slug
}

// BranchStem is the part of an issue's branch name that survives title
// edits: <prefix>/<number>.
func BranchStem(prefix string, number int) string {
	return fmt.Sprintf("%s/%d", prefix, number)
}
