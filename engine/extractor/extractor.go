// Package extractor reduces a raw HTML page down to its normalized reading
// text, the way a Docusaurus-generated documentation site structures it: a
// single content region stripped of navigation chrome.
package extractor

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ragforge/docpipe/engine/model"
)

// contentSelectors are tried in order; the first that yields non-empty text
// is taken as the page's main content region.
var contentSelectors = []string{
	"article",
	"[role=main]",
	".main-content",
	"#__docusaurus",
	"main",
}

// removeSelectors strips navigation chrome, admonition wrappers, and other
// non-prose elements from the matched content region before serialization.
// This list is part of the external-compat surface and may be extended but
// not shrunk.
var removeSelectors = []string{
	"nav",
	"header",
	"footer",
	".navbar",
	".footer",
	".theme-code-block-highlighted-line",
	".code-block-content",
	".pagination-nav",
	".table-of-contents",
	".breadcrumbs",
	".menu__link--sublist",
	".theme-doc-sidebar-container",
	".theme-doc-toc-mobile",
	".theme-last-updated",
	".theme-edit-this-page",
	"[role=navigation]",
	".admonition",
}

var (
	reExcessNewlines = regexp.MustCompile(`\n{3,}`)
	reSpacesTabs     = regexp.MustCompile(`[ \t]+`)
	reTitleSuffix    = regexp.MustCompile(`\s\|\s.*$`)
)

// Extract parses html and returns its DocumentPage, or an ExtractionError if
// no content region (including the body fallback) yields any text.
func Extract(html, url string, crawledAt time.Time) (model.DocumentPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return model.DocumentPage{}, model.NewExtractionError(url, "unparsable html: "+err.Error())
	}

	title := extractTitle(doc)
	content := findContentElement(doc)
	if content == nil {
		body := doc.Find("body")
		if body.Length() == 0 || strings.TrimSpace(body.Text()) == "" {
			return model.DocumentPage{}, model.NewExtractionError(url, "no content region or body found")
		}
		content = &body
	}

	cleanContent(content)
	text := normalize(serialize(content))
	if text == "" {
		return model.DocumentPage{}, model.NewExtractionError(url, "normalized text is empty")
	}

	return model.NewDocumentPage(url, title, text, crawledAt, nil)
}

func extractTitle(doc *goquery.Document) string {
	if h1 := doc.Find("h1").First(); h1.Length() > 0 {
		if t := strings.TrimSpace(h1.Text()); t != "" {
			return t
		}
	}
	if titleTag := doc.Find("title").First(); titleTag.Length() > 0 {
		t := strings.TrimSpace(titleTag.Text())
		t = reTitleSuffix.ReplaceAllString(t, "")
		if t != "" {
			return t
		}
	}
	return "Untitled"
}

func findContentElement(doc *goquery.Document) *goquery.Selection {
	for _, sel := range contentSelectors {
		el := doc.Find(sel).First()
		if el.Length() > 0 && strings.TrimSpace(el.Text()) != "" {
			return &el
		}
	}
	return nil
}

// cleanContent removes navigational chrome and then sweeps away elements
// left empty by that removal, preserving code blocks regardless of content.
func cleanContent(content *goquery.Selection) {
	for _, sel := range removeSelectors {
		content.Find(sel).Remove()
	}

	for {
		removed := false
		content.Find("*").Each(func(_ int, s *goquery.Selection) {
			if goquery.NodeName(s) == "code" || goquery.NodeName(s) == "pre" {
				return
			}
			if strings.TrimSpace(s.Text()) == "" && s.Children().Length() == 0 {
				s.Remove()
				removed = true
			}
		})
		if !removed {
			break
		}
	}
}

// serialize walks content's node tree exactly once, joining each distinct
// text node with a newline (the same single-pass shape as a
// get_text(separator="\n", strip=True) call), so prose sitting inside a
// nested wrapper (a markdown container div, a docusaurus layout div) isn't
// emitted once for the wrapper and again for each element nested inside it.
// A <pre> subtree is captured as one atomic unit to keep code block
// formatting verbatim instead of splitting it across its highlighting spans.
func serialize(content *goquery.Selection) string {
	var parts []string
	for _, n := range content.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, "\n")
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		case "pre":
			if t := strings.TrimSpace(nodeText(n)); t != "" {
				*parts = append(*parts, t)
			}
			return
		}
	}
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*parts = append(*parts, t)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

// nodeText concatenates every text node under n verbatim, with no
// separators or trimming, preserving a <pre> block's original formatting.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// normalize collapses whitespace per the spec's idempotent normalizer: runs
// of spaces/tabs become one space, runs of 3+ newlines collapse to two, and
// each line is trimmed. A blank line is dropped only when it is itself
// adjacent to another blank line (i.e. only runs of blank lines collapse);
// a lone blank line between two content lines is kept as the paragraph
// separator the chunker splits on.
func normalize(text string) string {
	if text == "" {
		return ""
	}
	text = reSpacesTabs.ReplaceAllString(text, " ")
	text = reExcessNewlines.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	prevBlank := true // drop leading blank lines
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if prevBlank {
				continue
			}
			prevBlank = true
			kept = append(kept, line)
			continue
		}
		prevBlank = false
		kept = append(kept, line)
	}
	for len(kept) > 0 && kept[len(kept)-1] == "" {
		kept = kept[:len(kept)-1]
	}
	return strings.Join(kept, "\n")
}
