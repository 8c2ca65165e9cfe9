package web

import (
	"html"
	"regexp"
	"strings"
)

var (
	reScript    = regexp.MustCompile(`(?is)<script[\s\S]*?</script>`)
	reStyle     = regexp.MustCompile(`(?is)<style[\s\S]*?</style>`)
	reComment   = regexp.MustCompile(`<!--[\s\S]*?-->`)
	reNav       = regexp.MustCompile(`(?is)<nav[\s\S]*?</nav>`)
	reFooter    = regexp.MustCompile(`(?is)<footer[\s\S]*?</footer>`)
	reHeader    = regexp.MustCompile(`(?is)<header[\s\S]*?</header>`)
	reTitle     = regexp.MustCompile(`(?is)<title[^>]*>([\s\S]*?)</title>`)
	reHeading   = regexp.MustCompile(`(?i)<h[1-6][^>]*>([\s\S]*?)</h[1-6]>`)
	reParagraph = regexp.MustCompile(`(?i)<p[^>]*>([\s\S]*?)</p>`)
	reBreak     = regexp.MustCompile(`(?i)<br\s*/?>`)
	reListItem  = regexp.MustCompile(`(?i)<li[^>]*>([\s\S]*?)</li>`)
	reTag       = regexp.MustCompile(`<[^>]+>`)
	reMultiNL   = regexp.MustCompile(`\n{3,}`)
	reMultiSP   = regexp.MustCompile(`[ \t]{2,}`)
)

// htmlToText extracts readable text from HTML. Regex extraction, not a
// DOM walk; good enough for the article-shaped pages the model loads.
func htmlToText(src string) string {
	var title string
	if m := reTitle.FindStringSubmatch(src); m != nil {
		title = strings.Join(strings.Fields(html.UnescapeString(m[1])), " ")
	}

	s := reScript.ReplaceAllString(src, "")
	s = reStyle.ReplaceAllString(s, "")
	s = reComment.ReplaceAllString(s, "")
	s = reNav.ReplaceAllString(s, "")
	s = reFooter.ReplaceAllString(s, "")
	s = reHeader.ReplaceAllString(s, "")

	s = reHeading.ReplaceAllString(s, "\n$1\n")
	s = reParagraph.ReplaceAllString(s, "\n$1\n")
	s = reBreak.ReplaceAllString(s, "\n")
	s = reListItem.ReplaceAllString(s, "\n- $1")

	s = reTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = reMultiSP.ReplaceAllString(s, " ")
	s = reMultiNL.ReplaceAllString(s, "\n\n")

	var clean []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			clean = append(clean, line)
		}
	}
	text := strings.Join(clean, "\n")

	// The title text survives tag stripping as the first line; only
	// prepend it when the page had none in its body.
	if title != "" && !strings.HasPrefix(text, title) {
		return title + "\n\n" + text
	}
	return text
}
