package feed

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxDecodePasses bounds how many layers of entity-encoded markup are peeled.
const maxDecodePasses = 3

var (
	stripPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)
	leftoverTag = regexp.MustCompile(`</?[A-Za-z!/?][^>]*>`)
)

// Excerpt reduces description markup to plain text of at most ExcerptLength
// characters. The cut is hard and ignores word boundaries.
func Excerpt(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	// The policy re-escapes text, so entities are decoded after each pass.
	// Encoded markup such as &lt;p&gt; becomes real tags for the next pass.
	text := rawHTML
	for i := 0; i < maxDecodePasses; i++ {
		next := html.UnescapeString(stripPolicy.Sanitize(text))
		if next == text {
			break
		}
		text = next
	}
	// deeper encodings run out of passes with live tags left
	text = leftoverTag.ReplaceAllString(text, " ")
	text = strings.Join(strings.Fields(text), " ")

	r := []rune(text)
	if len(r) > ExcerptLength {
		r = r[:ExcerptLength]
	}
	return string(r)
}
