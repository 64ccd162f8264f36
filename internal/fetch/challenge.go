package fetch

import (
	"bytes"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrChallenge reports that the portal answered 2xx with an anti-bot
// interstitial page instead of the extract.
var ErrChallenge = errors.New("anti-bot challenge page")

var challengeTitles = []string{
	"just a moment...",
	"attention required!",
	"please wait...",
}

// IsChallengePage reports whether the start of a response body is an anti-bot
// interstitial. Bodies that do not look like HTML are never challenges, so
// delimited extracts are not parsed.
func IsChallengePage(head []byte) bool {
	trimmed := bytes.TrimLeft(head, " \t\r\n\uFEFF")
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(head))
	if err != nil {
		return false
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, t := range challengeTitles {
		if strings.HasPrefix(title, t) {
			return true
		}
	}
	return doc.Find("#challenge-form, #cf-browser-verification, .cf-browser-verification, #cf-challenge-running").Length() > 0
}
