package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type htmlPage struct {
	title string
	text  string
	links []string
}

// skipText lists elements whose text is never content.
var skipText = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Title:    true,
}

// blockElems end a line of extracted text.
var blockElems = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Pre: true, atom.Blockquote: true,
}

// parseHTML extracts the title, visible text and raw link targets of a page.
func parseHTML(raw []byte) htmlPage {
	var page htmlPage
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return page
	}

	var h1 string
	var buf strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if page.title == "" {
					page.title = strings.TrimSpace(nodeText(n))
				}
			case atom.H1:
				if h1 == "" {
					h1 = strings.TrimSpace(nodeText(n))
				}
			case atom.A:
				for _, a := range n.Attr {
					if a.Key == "href" && a.Val != "" {
						page.links = append(page.links, a.Val)
					}
				}
			}
			if skipText[n.DataAtom] {
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				if buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n") {
					buf.WriteByte(' ')
				}
				buf.WriteString(s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElems[n.DataAtom] && buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n") {
			buf.WriteByte('\n')
		}
	}
	walk(doc)

	if page.title == "" {
		page.title = h1
	}
	page.text = strings.TrimSpace(buf.String())
	return page
}

func nodeText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}
