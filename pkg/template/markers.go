package template

import (
	"errors"
	"strings"
	"unicode"

	"github.com/ArionMiles/mailspend/pkg/textnorm"
)

// ErrBlockNotFound is returned when the sample block's lines do not appear
// contiguously in the full email body.
var ErrBlockNotFound = errors.New("transaction block not found in email body")

// Markers bound the region of an email body that holds the transaction.
type Markers struct {
	Start string `json:"bodyStartMarker"`
	End   string `json:"bodyEndMarker"`
}

// GenerateSlicingMarkers locates the block inside the full body and derives
// start and end markers from the lines immediately around it. Only the first
// two words of each neighbouring line are kept so that minor changes in the
// surrounding boilerplate do not break slicing.
func GenerateSlicingMarkers(fullBody, block string) (Markers, error) {
	bodyLines := textnorm.Lines(fullBody)
	blockLines := textnorm.Lines(block)
	if len(bodyLines) == 0 || len(blockLines) == 0 {
		return Markers{}, nil
	}

	at := indexLines(bodyLines, blockLines)
	if at < 0 {
		return Markers{}, ErrBlockNotFound
	}

	var m Markers
	if at > 0 {
		m.Start = markerFrom(bodyLines[at-1])
	}
	if after := at + len(blockLines); after < len(bodyLines) {
		m.End = markerFrom(bodyLines[after])
	}
	return m, nil
}

// indexLines returns the first index in haystack at which needle occurs as a
// contiguous run, or -1.
func indexLines(haystack, needle []string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// markerFrom returns the first two words of the first sentence of line,
// keeping the original spacing between them.
func markerFrom(line string) string {
	sentence := firstSentence(line)
	end := len(sentence)
	words, inWord := 0, false
	for i, r := range sentence {
		if !unicode.IsSpace(r) {
			inWord = true
			continue
		}
		if inWord {
			words++
			inWord = false
			if words == 2 {
				end = i
				break
			}
		}
	}
	return strings.TrimSpace(sentence[:end])
}

// firstSentence cuts line at the first '.', '!' or '?' that is followed by
// whitespace or ends the line. Decimal points such as "45.00" do not end a sentence.
func firstSentence(line string) string {
	runes := []rune(line)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i == len(runes)-1 || unicode.IsSpace(runes[i+1]) {
			return string(runes[:i])
		}
	}
	return line
}
