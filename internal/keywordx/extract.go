// Package keywordx is the local keyword extractor: a deterministic,
// pure-function fallback used whenever the Oracle's answer is unusable
// or unavailable.
package keywordx

import "strings"

const maxLen = 95

// lexicon is a small set of education-domain terms checked, in order,
// against the utterance text. The first match wins.
var lexicon = []string{
	"수강신청",
	"시간표",
	"학점",
	"장학금",
	"등록금",
	"졸업",
	"수업",
	"과제",
	"시험",
	"휴학",
	"복학",
	"전공",
	"교양",
	"학적",
	"성적",
	"강의",
	"출석",
	"논문",
	"입학",
	"편입",
}

// Extract derives a short keyword from text without calling the
// Oracle. It first looks for a lexicon term, then falls back to the
// first whitespace-delimited token of length >= 2, then to the first
// 95 characters of text. The result is never longer than 95 characters:
// a longer token is cut to its first 95.
func Extract(text string) string {
	for _, term := range lexicon {
		if strings.Contains(text, term) {
			return term
		}
	}

	for _, tok := range strings.Fields(text) {
		if r := []rune(tok); len(r) >= 2 {
			if len(r) > maxLen {
				return string(r[:maxLen])
			}
			return tok
		}
	}

	runes := []rune(text)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return text
}
