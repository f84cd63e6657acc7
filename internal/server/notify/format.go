package notify

import (
	"html"
	"regexp"
	"strings"
)

// Format is the body format understood by the delivery backend.
type Format string

const (
	FormatHTML     Format = "html"
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

const maxTootLength = 480

var (
	emailSchemes = map[string]struct{}{
		"mailto": {}, "mailtos": {}, "gmail": {}, "ses": {}, "sendgrid": {}, "outlook": {}, "resend": {},
	}
	mastodonSchemes = map[string]struct{}{
		"mastodon": {}, "mastodons": {}, "toot": {}, "toots": {},
	}
)

var (
	linkRe       = regexp.MustCompile(`(?is)<a [^>]*href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`(?i)<\s*br\s*/?\s*>`)
	pCloseRe     = regexp.MustCompile(`(?i)</\s*p\s*>`)
	pOpenRe      = regexp.MustCompile(`(?i)<\s*p\s*[^>]*>`)
	liOpenRe     = regexp.MustCompile(`(?i)<\s*li\s*[^>]*>`)
	liCloseRe    = regexp.MustCompile(`(?i)</\s*li\s*>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Scheme returns the lowercased URL scheme of a channel target, or "" when
// the target has none. It is the only part of a target that may be logged.
func Scheme(target string) string {
	i := strings.Index(target, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(target[:i])
}

// Prepare adapts an HTML notification to the channel behind scheme. Email
// channels get HTML as is; Mastodon gets short plain text with the title
// folded in and detailURL appended; everything else gets Markdown.
func Prepare(scheme, title, bodyHTML, detailURL string) Message {
	if _, ok := emailSchemes[scheme]; ok {
		return Message{Title: title, Body: bodyHTML, Format: FormatHTML}
	}

	if _, ok := mastodonSchemes[scheme]; ok {
		merged := bodyHTML
		if t := strings.TrimSpace(title); t != "" {
			merged = t + "\n\n" + bodyHTML
		}
		text := []rune(HTMLToText(merged))

		var tail []rune
		if detailURL != "" {
			tail = []rune(" More: " + detailURL)
		}
		if len(text)+len(tail) > maxTootLength {
			keep := max(0, maxTootLength-len(tail)-1)
			text = append([]rune(strings.TrimRight(string(text[:keep]), " \n\t")), '…')
		}
		return Message{Body: string(text) + string(tail), Format: FormatText}
	}

	return Message{Title: title, Body: HTMLToText(bodyHTML), Format: FormatMarkdown}
}

// HTMLToText is a small converter for the notification markup this package
// produces: links become "text (url)", paragraphs and list items become lines.
func HTMLToText(s string) string {
	s = linkRe.ReplaceAllString(s, "$2 ($1)")
	s = brRe.ReplaceAllString(s, "\n")
	s = pCloseRe.ReplaceAllString(s, "\n\n")
	s = pOpenRe.ReplaceAllString(s, "")
	s = liOpenRe.ReplaceAllString(s, "- ")
	s = liCloseRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
