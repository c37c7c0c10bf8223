package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

const maxTextLen = 300

// ToText flattens an upstream response body to a single line of plain text
// for error messages. Gateways often answer with HTML error pages.
func ToText(s string) string {
	text := strings.Join(strings.Fields(html2text.HTML2Text(s)), " ")
	if len(text) > maxTextLen {
		text = text[:maxTextLen] + "..."
	}
	return text
}
