package tracker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	raw := `{
		"type": "doc",
		"version": 1,
		"content": [
			{"type": "paragraph", "content": [
				{"type": "text", "text": "Payment fails"},
				{"type": "text", "text": "on checkout."}
			]},
			{"type": "paragraph", "content": [
				{"type": "mention", "attrs": {"id": "abc", "text": "@Dana"}},
				{"type": "text", "text": "is looking into it"}
			]}
		]
	}`
	var doc ADFDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	assert.Equal(t, "Payment fails on checkout. @Dana is looking into it", ExtractText(&doc))
}

func TestExtractText_NilAndEmpty(t *testing.T) {
	assert.Equal(t, "", ExtractText(nil))
	assert.Equal(t, "", ExtractText(&ADFDocument{Type: "doc", Version: 1}))
}

func TestNewTextDocument(t *testing.T) {
	doc := NewTextDocument("hello world")

	assert.Equal(t, "doc", doc.Type)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, "hello world", ExtractText(doc))
}

func TestNewCommentBody_WithMentions(t *testing.T) {
	doc := NewCommentBody("please take a look", []Mention{
		{AccountID: "acc-1", DisplayName: "Dana"},
		{AccountID: "", DisplayName: "skipped"},
	})

	require.Len(t, doc.Content, 1)
	para := doc.Content[0]
	// mention + separator + text; the empty-id mention is dropped
	require.Len(t, para.Content, 3)
	assert.Equal(t, "mention", para.Content[0].Type)
	assert.Equal(t, "@Dana", para.Content[0].Attrs["text"])
	assert.Equal(t, "@Dana please take a look", ExtractText(doc))
}
