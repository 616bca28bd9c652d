// Package sanitize reduces a raw inbound email body to the text worth
// replying to: quoted history, forwarded headers, and signatures are noise
// that wastes model tokens and leaks thread content into the prompt.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxBodyLen is the cap, in runes, applied after stripping.
const MaxBodyLen = 10000

var (
	// "On Mon, Jan 2, 2006 at 3:04 PM Alice <a@b.com> wrote:"
	replyHeaderRe = regexp.MustCompile(`(?i)^on .{0,200}wrote:\s*$`)
	// Start of a forwarded/original message block.
	originalMsgRe = regexp.MustCompile(`(?i)^-{2,}\s*(original|forwarded) message\s*-{2,}`)
	// Runs of mail headers pasted into the body.
	mailHeaderRe = regexp.MustCompile(`(?i)^(from|sent|to|cc|subject|date):\s`)
	// Mobile client footers.
	mobileFooterRe = regexp.MustCompile(`(?i)^sent from my `)
)

// Body strips quoted lines, reply-header and forwarded blocks, and the
// trailing signature, then truncates to MaxBodyLen.
func Body(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	var kept []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		// Everything after a reply header or original-message marker is
		// quoted history.
		if replyHeaderRe.MatchString(trimmed) || originalMsgRe.MatchString(trimmed) {
			break
		}
		// The RFC 3676 signature delimiter is "-- " but clients mangle the
		// trailing space, so match the bare dashes too.
		if trimmed == "--" || line == "-- " {
			break
		}
		if mobileFooterRe.MatchString(trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if mailHeaderRe.MatchString(trimmed) {
			continue
		}
		kept = append(kept, line)
	}

	out := strings.TrimSpace(strings.Join(kept, "\n"))
	if utf8.RuneCountInString(out) > MaxBodyLen {
		runes := []rune(out)
		out = string(runes[:MaxBodyLen])
	}
	return out
}
