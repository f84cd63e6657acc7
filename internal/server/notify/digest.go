package notify

import (
	"fmt"
	"html"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/server/models"
)

const timestampLayout = "2006-01-02 15:04:05 MST"

// Digest is the per-profile summary of one cycle's transitions.
type Digest struct {
	Title     string
	BodyHTML  string
	DetailURL string
}

// DigestOptions personalises a digest.
type DigestOptions struct {
	RecipientName string
	// PublicBaseURL prefixes per-item detail links; empty disables links.
	PublicBaseURL string
	// UnsubscribeURL is appended as an opt-out link when not empty.
	UnsubscribeURL string
}

// DetailURL links to the public history view of one item.
func DetailURL(base, ciID string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/plot?ci=" + url.QueryEscape(ciID)
}

// UnsubscribeURL builds the one-click opt-out link for a profile token.
func UnsubscribeURL(base, token string) string {
	if base == "" || token == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + token
}

// ComposeDigest renders events as one HTML message. Incidents are listed
// first, then recoveries, then other changes, each group ordered by item id.
func ComposeDigest(events []models.TransitionEvent, opts DigestOptions) Digest {
	sorted := make([]models.TransitionEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rank(sorted[i]), rank(sorted[j])
		if ri != rj {
			return ri < rj
		}
		return sorted[i].CIID < sorted[j].CIID
	})

	var incidents, recoveries int
	for _, e := range sorted {
		switch {
		case e.IsIncident():
			incidents++
		case e.IsRecovery():
			recoveries++
		}
	}

	name := opts.RecipientName
	if name == "" {
		name = "there"
	}

	var b strings.Builder
	b.WriteString(`<html lang="en"><body>`)
	fmt.Fprintf(&b, "<p>Hello %s,</p>", html.EscapeString(name))
	b.WriteString("<p>the availability of the following components you subscribed to changed during the last check:</p>")
	if incidents > 0 || recoveries > 0 {
		fmt.Fprintf(&b, "<p><strong>Summary:</strong> 🚨 %d | ✅ %d</p>", incidents, recoveries)
	}
	b.WriteString("<ul>")
	for _, e := range sorted {
		writeItem(&b, e, DetailURL(opts.PublicBaseURL, e.CIID))
	}
	b.WriteString("</ul>")
	if opts.UnsubscribeURL != "" {
		fmt.Fprintf(&b, `<p><a href="%s">Unsubscribe from this notification profile</a></p>`, html.EscapeString(opts.UnsubscribeURL))
	}
	b.WriteString("</body></html>")

	detail := strings.TrimRight(opts.PublicBaseURL, "/")
	if len(sorted) == 1 {
		detail = DetailURL(opts.PublicBaseURL, sorted[0].CIID)
	}

	return Digest{
		Title:     digestTitle(len(sorted)),
		BodyHTML:  b.String(),
		DetailURL: detail,
	}
}

func digestTitle(n int) string {
	if n == 1 {
		return "availwatch: 1 availability change"
	}
	return fmt.Sprintf("availwatch: %d availability changes", n)
}

func rank(e models.TransitionEvent) int {
	switch {
	case e.IsIncident():
		return 0
	case e.IsRecovery():
		return 1
	default:
		return 2
	}
}

func writeItem(b *strings.Builder, e models.TransitionEvent, href string) {
	id := html.EscapeString(e.CIID)
	b.WriteString("<li> <strong>")
	if href != "" {
		fmt.Fprintf(b, `<a href="%s">%s</a>`, html.EscapeString(href), id)
	} else {
		b.WriteString(id)
	}
	fmt.Fprintf(b, "</strong>: %s, %s, %s ",
		html.EscapeString(e.Product), html.EscapeString(e.Name), html.EscapeString(e.Organization))

	switch {
	case e.IsIncident():
		b.WriteString(`<span style="color:red">&nbsp;is no longer available&nbsp;</span>🚨`)
	case e.IsRecovery():
		b.WriteString(`<span style="color:green">&nbsp;is available again&nbsp;</span>✅`)
	default:
		fmt.Fprintf(b, "changed from %s to %s ℹ️", e.PreviousState, e.NewState)
	}
	fmt.Fprintf(b, " - as of %s</li>", e.OccurredAt.UTC().Format(timestampLayout))
}

// LoginCodeMessage is the plain-text message carrying a one-time code.
func LoginCodeMessage(code string, ttl time.Duration) Message {
	return Message{
		Title:  "availwatch login code",
		Body:   fmt.Sprintf("Your availwatch login code is: %s\n\nThe code is valid for %d minutes.", code, int(ttl.Minutes())),
		Format: FormatText,
	}
}
