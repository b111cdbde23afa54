// Package markdown converts standard markdown into Slack's mrkdwn
// dialect. LLM responses arrive as regular markdown; Slack renders a
// different syntax (single-asterisk bold, <url|label> links, no
// headings), so the tree is re-rendered rather than regex-patched.
package markdown

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

type MrkdwnService interface {
	ToMrkdwn(markdown string) (string, error)
}

type mrkdwnServiceImpl struct {
	md goldmark.Markdown
}

func NewMrkdwnService() MrkdwnService {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.Strikethrough,
			extension.Linkify,
		),
	)
	return &mrkdwnServiceImpl{md: md}
}

func (s *mrkdwnServiceImpl) ToMrkdwn(markdown string) (string, error) {
	source := []byte(markdown)
	doc := s.md.Parser().Parse(text.NewReader(source))

	var blocks []string
	for child := doc.FirstChild(); child != nil; child = child.NextSibling() {
		block, err := renderBlock(source, child)
		if err != nil {
			return "", err
		}
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

func renderBlock(source []byte, node ast.Node) (string, error) {
	switch n := node.(type) {
	case *ast.Heading:
		// Slack has no headings; bold the line instead.
		inline, err := renderChildren(source, n)
		if err != nil {
			return "", err
		}
		return "*" + inline + "*", nil
	case *ast.Paragraph, *ast.TextBlock:
		return renderChildren(source, node)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return "```\n" + rawLines(source, node) + "```", nil
	case *ast.Blockquote:
		inner, err := renderBlockChildren(source, n, "\n")
		if err != nil {
			return "", err
		}
		var quoted []string
		for _, line := range strings.Split(inner, "\n") {
			quoted = append(quoted, "> "+line)
		}
		return strings.Join(quoted, "\n"), nil
	case *ast.List:
		return renderList(source, n)
	case *ast.ThematicBreak:
		return "---", nil
	default:
		return renderChildren(source, node)
	}
}

func renderList(source []byte, list *ast.List) (string, error) {
	var lines []string
	index := list.Start
	if index == 0 {
		index = 1
	}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		body, err := renderBlockChildren(source, item, "\n")
		if err != nil {
			return "", err
		}
		marker := "• "
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d. ", index)
			index++
		}
		lines = append(lines, marker+body)
	}
	return strings.Join(lines, "\n"), nil
}

func renderBlockChildren(source []byte, node ast.Node, sep string) (string, error) {
	var parts []string
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		part, err := renderBlock(source, child)
		if err != nil {
			return "", err
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, sep), nil
}

func renderChildren(source []byte, node ast.Node) (string, error) {
	var b strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		if err := renderInline(source, child, &b); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func renderInline(source []byte, node ast.Node, b *strings.Builder) error {
	switch n := node.(type) {
	case *ast.Text:
		b.Write(n.Segment.Value(source))
		if n.SoftLineBreak() || n.HardLineBreak() {
			b.WriteString("\n")
		}
	case *ast.String:
		b.Write(n.Value)
	case *ast.Emphasis:
		marker := "_"
		if n.Level >= 2 {
			marker = "*"
		}
		inner, err := renderChildren(source, n)
		if err != nil {
			return err
		}
		b.WriteString(marker + inner + marker)
	case *east.Strikethrough:
		inner, err := renderChildren(source, n)
		if err != nil {
			return err
		}
		b.WriteString("~" + inner + "~")
	case *ast.CodeSpan:
		inner, err := renderChildren(source, n)
		if err != nil {
			return err
		}
		b.WriteString("`" + inner + "`")
	case *ast.Link:
		label, err := renderChildren(source, n)
		if err != nil {
			return err
		}
		b.WriteString("<" + string(n.Destination) + "|" + label + ">")
	case *ast.AutoLink:
		b.WriteString("<" + string(n.URL(source)) + ">")
	case *ast.Image:
		label, err := renderChildren(source, n)
		if err != nil {
			return err
		}
		b.WriteString("<" + string(n.Destination) + "|" + label + ">")
	default:
		inner, err := renderChildren(source, node)
		if err != nil {
			return err
		}
		b.WriteString(inner)
	}
	return nil
}

func rawLines(source []byte, node ast.Node) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		b.Write(segment.Value(source))
	}
	return b.String()
}
