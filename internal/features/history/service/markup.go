package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
)

// structurePassScore is the number of structural signals a dashboard page needs
const structurePassScore = 4

// Document is a parsed page with selector access
type Document struct {
	Root    *html.Node
	Sel     *goquery.Document
	Backend string
}

// Scripts returns the text of all inline script elements in document order
func (d *Document) Scripts() []string {
	var scripts []string
	d.Sel.Find("script").Each(func(_ int, s *goquery.Selection) {
		if text := s.Text(); strings.TrimSpace(text) != "" {
			scripts = append(scripts, text)
		}
	})
	return scripts
}

// Text returns the visible text of the document
func (d *Document) Text() string {
	return d.Sel.Text()
}

// markupBackend turns markup into a node tree
type markupBackend struct {
	name  string
	parse func(string) (*html.Node, error)
}

// MarkupParser parses HTML through an ordered list of backends
type MarkupParser struct {
	backends []markupBackend
	logger   *slog.Logger
}

// NewMarkupParser creates a parser with the default backend order
func NewMarkupParser(logger *slog.Logger) *MarkupParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkupParser{
		backends: []markupBackend{
			{name: "goquery", parse: parseWithGoquery},
			{name: "fragment", parse: parseBodyFragment},
			{name: "tokenizer", parse: parseLenient},
		},
		logger: logger,
	}
}

// Parse returns the document from the first backend producing a non-empty root
func (p *MarkupParser) Parse(markup string) (*Document, error) {
	var (
		tried []string
		errs  []error
	)

	for _, backend := range p.backends {
		tried = append(tried, backend.name)

		root, err := backend.parse(markup)
		if err != nil {
			p.logger.Debug("markup backend failed", "backend", backend.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", backend.name, err))
			continue
		}
		if !hasContent(root) {
			errs = append(errs, fmt.Errorf("%s: empty document", backend.name))
			continue
		}

		return &Document{
			Root:    root,
			Sel:     goquery.NewDocumentFromNode(root),
			Backend: backend.name,
		}, nil
	}

	return nil, common.NewParseError(tried, errors.Join(errs...))
}

// ValidateStructure scores seven independent signals and passes at four.
// It never fails the pipeline; callers only log a failing score.
func (p *MarkupParser) ValidateStructure(doc *Document, host, check string) (bool, int) {
	if doc == nil || doc.Sel == nil {
		return false, 0
	}

	text := strings.ToLower(doc.Text())
	signals := []bool{
		strings.TrimSpace(doc.Sel.Find("title").First().Text()) != "",
		doc.Sel.Find(`canvas, svg, div.graph, div[id^="graph"], .graph_container, img[src*="graph"]`).Length() > 0,
		doc.Sel.Find("table").Length() > 0,
		doc.Sel.Find("script").Length() > 0,
		host != "" && strings.Contains(text, strings.ToLower(host)),
		check != "" && strings.Contains(text, strings.ToLower(check)),
		hasProductMarkup(doc),
	}

	score := 0
	for _, ok := range signals {
		if ok {
			score++
		}
	}
	return score >= structurePassScore, score
}

func hasProductMarkup(doc *Document) bool {
	if doc.Sel.Find(`[class*="cmk"], [id*="check_mk"], link[href*="check_mk"], script[src*="cmk"], script[src*="check_mk"]`).Length() > 0 {
		return true
	}
	found := false
	doc.Sel.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = strings.Contains(s.Text(), "cmk.")
		return !found
	})
	return found
}

func parseWithGoquery(markup string) (*html.Node, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	if len(doc.Nodes) == 0 {
		return nil, errors.New("no root node")
	}
	return doc.Nodes[0], nil
}

// parseBodyFragment parses the markup as the content of a body element.
// Render responses are fragments without a document shell.
func parseBodyFragment(markup string) (*html.Node, error) {
	bodyContext := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), bodyContext)
	if err != nil {
		return nil, err
	}

	root := &html.Node{Type: html.DocumentNode}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	root.AppendChild(body)
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return root, nil
}

// voidElements never have children
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true, "img": true,
	"input": true, "link": true, "meta": true, "param": true, "source": true, "track": true, "wbr": true,
}

// parseLenient builds a tree straight from the tokenizer. Unmatched end tags
// are ignored and unclosed elements are closed at end of input.
func parseLenient(markup string) (*html.Node, error) {
	root := &html.Node{Type: html.DocumentNode}
	stack := []*html.Node{root}
	z := html.NewTokenizer(strings.NewReader(markup))

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return root, nil

		case html.TextToken:
			stack[len(stack)-1].AppendChild(&html.Node{Type: html.TextNode, Data: string(z.Text())})

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			node := &html.Node{
				Type:     html.ElementNode,
				Data:     tok.Data,
				DataAtom: tok.DataAtom,
				Attr:     tok.Attr,
			}
			stack[len(stack)-1].AppendChild(node)
			if tt == html.StartTagToken && !voidElements[tok.Data] {
				stack = append(stack, node)
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].Data == string(name) {
					stack = stack[:i]
					break
				}
			}
		}
	}
}

// hasContent reports whether root holds anything beyond the implied html/head/body shell
func hasContent(root *html.Node) bool {
	if root == nil {
		return false
	}
	found := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found {
			return
		}
		switch n.Type {
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Html, atom.Head, atom.Body:
			default:
				found = true
				return
			}
		case html.TextNode:
			if strings.TrimSpace(n.Data) != "" {
				found = true
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return found
}

// attrVal returns the value of the attribute key or ""
func attrVal(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
