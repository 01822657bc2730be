package pipeline

import (
	"strings"

	"golang.org/x/net/html"
)

// page is the readable core of an HTML document.
type page struct {
	Title  string
	Author string
	Text   string
}

var strippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"nav": true, "footer": true, "aside": true, "form": true,
	"iframe": true, "svg": true, "button": true,
}

// extractReadable pulls the main article content out of an HTML document:
// metadata from head tags, then the densest content container in the body.
func extractReadable(root *html.Node) page {
	var p page
	p.Title, p.Author = extractMeta(root)

	body := findFirst(root, "body")
	if body == nil {
		body = root
	}
	container := mainContainer(body)
	p.Text = strings.TrimSpace(renderText(container))

	if p.Title == "" {
		if h1 := findFirst(body, "h1"); h1 != nil {
			p.Title = strings.TrimSpace(textContent(h1))
		}
	}
	return p
}

func extractMeta(root *html.Node) (title, author string) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" {
					title = strings.TrimSpace(textContent(n))
				}
			case "meta":
				name := strings.ToLower(attr(n, "property") + attr(n, "name"))
				content := strings.TrimSpace(attr(n, "content"))
				if content == "" {
					break
				}
				switch name {
				case "og:title", "twitter:title":
					title = content
				case "author", "article:author":
					if author == "" {
						author = content
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return title, author
}

// mainContainer prefers semantic article containers; failing those, it picks
// the block element holding the most paragraph text.
func mainContainer(body *html.Node) *html.Node {
	for _, tag := range []string{"article", "main"} {
		if n := findFirst(body, tag); n != nil {
			return n
		}
	}
	if n := findByAttr(body, "role", "main"); n != nil {
		return n
	}

	best, bestScore := body, 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "div" || n.Data == "section") {
			score := 0
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.Data == "p" {
					score += len(strings.TrimSpace(textContent(c)))
				}
			}
			if score > bestScore {
				best, bestScore = n, score
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(body)
	return best
}

// renderText flattens a container into readable plain text: block elements
// become paragraphs, headings keep a markdown marker, stripped tags vanish.
func renderText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if strippedTags[n.Data] {
				return
			}
			switch n.Data {
			case "p", "div", "section", "ul", "ol", "blockquote", "pre", "table", "br":
				b.WriteString("\n")
			case "li":
				b.WriteString("\n- ")
			case "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "section", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre":
				b.WriteString("\n")
			}
		}
	}
	walk(n)
	return collapseBlankLines(b.String())
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, strings.Join(strings.Fields(line), " "))
	}
	return strings.Join(out, "\n")
}

func textContent(n *html.Node) string {
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

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findByAttr(n *html.Node, key, value string) *html.Node {
	if n.Type == html.ElementNode && attr(n, key) == value {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByAttr(c, key, value); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
