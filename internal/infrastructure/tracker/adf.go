// Package tracker provides the Jira Cloud REST client and the Atlassian
// document helpers used to move plain text in and out of issue bodies.
package tracker

import "strings"

// ADFNode is one node of an Atlassian Document Format tree. Only the node
// kinds the bot reads and writes are modeled: doc, paragraph, text and
// mention.
type ADFNode struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []ADFNode      `json:"content,omitempty"`
}

// ADFDocument is the top-level "doc" node with its version marker.
type ADFDocument struct {
	Type    string    `json:"type"`
	Version int       `json:"version"`
	Content []ADFNode `json:"content,omitempty"`
}

// ExtractText flattens a document into plain text. Text nodes contribute
// their text, mention nodes contribute their rendered "@Name" attribute,
// everything else only its children. Block boundaries become spaces.
func ExtractText(doc *ADFDocument) string {
	if doc == nil {
		return ""
	}
	var parts []string
	for _, block := range doc.Content {
		collectText(block, &parts)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func collectText(node ADFNode, parts *[]string) {
	switch node.Type {
	case "text":
		if node.Text != "" {
			*parts = append(*parts, node.Text)
		}
	case "mention":
		if text, ok := node.Attrs["text"].(string); ok && text != "" {
			*parts = append(*parts, text)
		}
	}
	for _, child := range node.Content {
		collectText(child, parts)
	}
}

// NewTextDocument wraps plain text in a single-paragraph document, the
// shape Jira expects for description fields.
func NewTextDocument(text string) *ADFDocument {
	return &ADFDocument{
		Type:    "doc",
		Version: 1,
		Content: []ADFNode{
			{
				Type:    "paragraph",
				Content: []ADFNode{{Type: "text", Text: text}},
			},
		},
	}
}

// Mention references a tracker account inside a comment body.
type Mention struct {
	AccountID   string
	DisplayName string
}

// NewCommentBody builds a comment document with optional leading mentions
// followed by the comment text.
func NewCommentBody(text string, mentions []Mention) *ADFDocument {
	var tokens []ADFNode
	for _, m := range mentions {
		if m.AccountID == "" {
			continue
		}
		tokens = append(tokens,
			ADFNode{
				Type: "mention",
				Attrs: map[string]any{
					"id":       m.AccountID,
					"text":     "@" + m.DisplayName,
					"userType": "DEFAULT",
				},
			},
			ADFNode{Type: "text", Text: " "},
		)
	}
	tokens = append(tokens, ADFNode{Type: "text", Text: text})

	return &ADFDocument{
		Type:    "doc",
		Version: 1,
		Content: []ADFNode{{Type: "paragraph", Content: tokens}},
	}
}
