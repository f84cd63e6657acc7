package notify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/availwatch/internal/common"
)

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

// URLTemplate is a channel URL with {email} and {otp} placeholders. It is
// validated once, when configuration is loaded.
type URLTemplate struct {
	raw string
}

// ParseURLTemplate accepts only the {email} and {otp} placeholders and
// requires {email} to be present.
func ParseURLTemplate(s string) (*URLTemplate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: url template is empty", common.ErrConfig)
	}

	hasEmail := false
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		switch m[1] {
		case "email":
			hasEmail = true
		case "otp":
		default:
			return nil, fmt.Errorf("%w: unknown placeholder {%s} in url template", common.ErrConfig, m[1])
		}
	}
	if strings.ContainsAny(placeholderRe.ReplaceAllString(s, ""), "{}") {
		return nil, fmt.Errorf("%w: unbalanced brace in url template", common.ErrConfig)
	}
	if !hasEmail {
		return nil, fmt.Errorf("%w: url template must contain {email}", common.ErrConfig)
	}
	return &URLTemplate{raw: s}, nil
}

// Render substitutes the placeholders. Pass an empty otp for plain
// notifications.
func (t *URLTemplate) Render(email, otp string) string {
	return strings.NewReplacer("{email}", email, "{otp}", otp).Replace(t.raw)
}
