package correlate

import (
	"regexp"
	"strings"

	"procurehub/internal/model"
)

// Sender extraction is an ordered chain of strategies, first match wins.
// Each strategy handles one representation the upstream mail source may
// hand us: a structured address field, raw header text with an
// angle-bracket address, or a bare address string.
type addressStrategy struct {
	name    string
	extract func(e *model.InboundEmail) (string, bool)
}

var (
	angleBracketRe = regexp.MustCompile(`<\s*([^<>\s@]+@[^<>\s@]+\.[^<>\s@]+)\s*>`)
	bareAddressRe  = regexp.MustCompile(`\b([^\s<>@]+@[^\s<>@]+\.[^\s<>@]+)\b`)
)

var addressStrategies = []addressStrategy{
	{
		name: "structured",
		extract: func(e *model.InboundEmail) (string, bool) {
			addr := strings.TrimSpace(e.FromAddress)
			if addr == "" {
				return "", false
			}
			// 有些上游把完整 display header 塞进结构化字段
			if m := angleBracketRe.FindStringSubmatch(addr); m != nil {
				return m[1], true
			}
			if !strings.Contains(addr, "@") || strings.ContainsAny(addr, "<> ") {
				return "", false
			}
			return addr, true
		},
	},
	{
		name: "angle_brackets",
		extract: func(e *model.InboundEmail) (string, bool) {
			m := angleBracketRe.FindStringSubmatch(e.FromHeader)
			if m == nil {
				return "", false
			}
			return m[1], true
		},
	},
	{
		name: "bare_address",
		extract: func(e *model.InboundEmail) (string, bool) {
			m := bareAddressRe.FindStringSubmatch(e.FromHeader)
			if m == nil {
				return "", false
			}
			return m[1], true
		},
	},
}

// ExtractSenderAddress walks the strategy chain and returns the first
// usable address, lowercased.
func ExtractSenderAddress(e *model.InboundEmail) (string, bool) {
	for _, s := range addressStrategies {
		if addr, ok := s.extract(e); ok {
			return strings.ToLower(addr), true
		}
	}
	return "", false
}

// subjectTagRe matches the request-identity tag [REQ-<identity>]
// embedded in reply subjects, case-insensitively.
var subjectTagRe = regexp.MustCompile(`(?i)\[REQ-([A-Za-z0-9-]+)\]`)

// RequestIdentityFromSubject returns the identity carried by a subject
// tag, if present.
func RequestIdentityFromSubject(subject string) (string, bool) {
	m := subjectTagRe.FindStringSubmatch(subject)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SubjectTag renders the tag for outbound dispatch subjects.
func SubjectTag(identity string) string {
	return "[REQ-" + identity + "]"
}
