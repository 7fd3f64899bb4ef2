package htmldoc

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// inlinePolicy allows the inline markup a translated block may carry.
func inlinePolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowStandardURLs()
		p.AllowElements("b", "strong", "i", "em", "u", "s", "small", "sub", "sup",
			"mark", "code", "br", "span", "abbr", "q", "cite", "kbd", "var", "time")
		p.AllowAttrs("title").OnElements("abbr", "span", "q", "cite")
		p.AllowAttrs("lang", "dir").Globally()
		p.AllowAttrs("href", "title", "target", "rel", "hreflang").OnElements("a")
		p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
		p.AllowAttrs("datetime").OnElements("time")
		policy = p
	})
	return policy
}

// Sanitize strips anything executable from an HTML fragment: script and
// iframe elements, event-handler attributes and non-http(s)/mailto URLs.
// Benign inline markup is kept. It never fails; unsafe input degrades to
// its safe subset.
func Sanitize(fragment string) string {
	return inlinePolicy().Sanitize(fragment)
}
