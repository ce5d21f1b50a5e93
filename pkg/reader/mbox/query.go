package mbox

import (
	"regexp"
	"strings"

	"github.com/ArionMiles/mailspend/pkg/mailbody"
)

// queryTerm matches, in order: field:(group), field:"quoted", field:word,
// "quoted" and a bare word.
var queryTerm = regexp.MustCompile(`(\w+):\(([^)]*)\)|(\w+):"([^"]*)"|(\w+):(\S+)|"([^"]*)"|(\S+)`)

type clause struct {
	field string // subject, from or empty for anywhere
	words []string
}

// query is the subset of Gmail search syntax that templates use. Every
// clause must match. Words are compared case-insensitively.
type query []clause

func parseQuery(q string) query {
	var out query
	for _, m := range queryTerm.FindAllStringSubmatch(q, -1) {
		switch {
		case m[1] != "":
			out = append(out, clause{field: strings.ToLower(m[1]), words: strings.Fields(strings.ToLower(m[2]))})
		case m[3] != "":
			out = append(out, clause{field: strings.ToLower(m[3]), words: []string{strings.ToLower(m[4])}})
		case m[5] != "":
			out = append(out, clause{field: strings.ToLower(m[5]), words: []string{strings.ToLower(m[6])}})
		case m[7] != "":
			out = append(out, clause{words: []string{strings.ToLower(m[7])}})
		case m[8] != "":
			out = append(out, clause{words: []string{strings.ToLower(m[8])}})
		}
	}
	return out
}

func (q query) matches(msg *mailbody.Message) bool {
	subject := strings.ToLower(msg.Subject)
	from := strings.ToLower(msg.From)
	body := strings.ToLower(msg.Body)

	for _, c := range q {
		var haystack string
		switch c.field {
		case "subject":
			haystack = subject
		case "from":
			haystack = from
		case "":
			haystack = subject + "\n" + from + "\n" + body
		default:
			// Operators like label: or is: have no mbox equivalent.
			continue
		}
		for _, w := range c.words {
			if !strings.Contains(haystack, w) {
				return false
			}
		}
	}
	return true
}
