package extract

import (
	"bytes"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

var markdownParser = goldmark.New().Parser()

var frontMatterDelim = []byte("---")

// ParseMarkdown extracts the title and body of a markdown document.
// The title comes from the front-matter "title" key, else the first H1.
// Content is the markdown without its front-matter.
func ParseMarkdown(src []byte) (title, content string) {
	fm, body := splitFrontMatter(src)
	if len(fm) > 0 {
		var meta map[string]any
		if err := yaml.Unmarshal(fm, &meta); err == nil {
			if t, ok := meta["title"].(string); ok {
				title = strings.TrimSpace(t)
			}
		}
	}
	if title == "" {
		title = firstHeading(body)
	}
	return title, strings.TrimSpace(string(body))
}

// splitFrontMatter separates a leading "---" YAML block from the body.
func splitFrontMatter(src []byte) (fm, body []byte) {
	src = bytes.TrimPrefix(src, []byte("\ufeff"))
	if !bytes.HasPrefix(src, frontMatterDelim) {
		return nil, src
	}
	rest := src[len(frontMatterDelim):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || strings.TrimSpace(string(rest[:nl])) != "" {
		return nil, src
	}
	rest = rest[nl+1:]
	for offset := 0; offset < len(rest); {
		end := bytes.IndexByte(rest[offset:], '\n')
		var line []byte
		if end < 0 {
			line = rest[offset:]
			end = len(rest) - offset
		} else {
			line = rest[offset : offset+end]
		}
		if string(bytes.TrimRight(line, " \t\r")) == "---" {
			next := offset + end + 1
			if next > len(rest) {
				next = len(rest)
			}
			return rest[:offset], rest[next:]
		}
		offset += end + 1
	}
	return nil, src
}

func firstHeading(src []byte) string {
	doc := markdownParser.Parse(text.NewReader(src))
	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 {
			title = strings.TrimSpace(inlineText(h, src))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}

// inlineText concatenates the literal text below n.
func inlineText(n ast.Node, src []byte) string {
	var buf strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

// parseDocument builds a Document from a file's raw bytes, by extension.
func parseDocument(p string, raw []byte) Document {
	switch strings.ToLower(path.Ext(p)) {
	case ".html", ".htm":
		page := parseHTML(raw)
		return Document{Path: p, Title: page.title, Content: page.text}
	case ".md", ".mdx", ".mdoc", ".markdoc", ".markdown":
		title, content := ParseMarkdown(raw)
		return Document{Path: p, Title: title, Content: content}
	default:
		return Document{Path: p, Content: strings.TrimSpace(string(raw))}
	}
}
