package models

import "strings"

// ContentKind discriminates the content union. The wire carries content as a
// string, a rich-text tree, or a legacy embedded blob; it is decoded into the
// tagged form exactly once, at the transport boundary.
type ContentKind uint8

const (
	ContentInvalid ContentKind = iota
	ContentPlainText
	ContentRichText
	ContentLegacyEmbedded
)

func (k ContentKind) String() string {
	switch k {
	case ContentPlainText:
		return "PlainText"
	case ContentRichText:
		return "RichTextTree"
	case ContentLegacyEmbedded:
		return "LegacyEmbedded"
	default:
		return "Invalid"
	}
}

// RichTextNode is one node of a rich-text tree.
type RichTextNode struct {
	Type     string            `json:"type" cbor:"type"`
	Text     string            `json:"text,omitempty" cbor:"text,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty" cbor:"attrs,omitempty"`
	Children []RichTextNode    `json:"children,omitempty" cbor:"children,omitempty"`
}

// Content is the tagged union of message body representations, plus the
// collaboration flags that travel with it.
type Content struct {
	Kind ContentKind `json:"kind" cbor:"kind"`

	Text   string         `json:"text,omitempty" cbor:"text,omitempty"`
	Nodes  []RichTextNode `json:"nodes,omitempty" cbor:"nodes,omitempty"`
	Legacy []byte         `json:"legacy,omitempty" cbor:"legacy,omitempty"`

	IsCollaborative bool     `json:"isCollaborative,omitempty" cbor:"isCollaborative,omitempty"`
	Collaborators   []string `json:"collaborators,omitempty" cbor:"collaborators,omitempty"`
}

// PlainText returns plain-string content.
func PlainText(text string) Content {
	return Content{Kind: ContentPlainText, Text: text}
}

// RichText returns rich-text tree content.
func RichText(nodes ...RichTextNode) Content {
	return Content{Kind: ContentRichText, Nodes: nodes}
}

// LegacyEmbedded returns content carrying an undecoded legacy payload.
func LegacyEmbedded(raw []byte) Content {
	return Content{Kind: ContentLegacyEmbedded, Legacy: raw}
}

// IsEmpty reports whether the content decoded to nothing renderable.
// Federated payloads can legitimately decode empty when the payload has not
// replicated yet; callers treat that as a transient condition.
func (c Content) IsEmpty() bool {
	switch c.Kind {
	case ContentPlainText:
		return c.Text == ""
	case ContentRichText:
		return len(c.Nodes) == 0
	case ContentLegacyEmbedded:
		return len(c.Legacy) == 0
	default:
		return true
	}
}

// PlainString flattens the content to plain text for previews and logs.
func (c Content) PlainString() string {
	switch c.Kind {
	case ContentPlainText:
		return c.Text
	case ContentRichText:
		var b strings.Builder
		for i := range c.Nodes {
			flatten(&b, &c.Nodes[i])
		}
		return b.String()
	default:
		return ""
	}
}

func flatten(b *strings.Builder, n *RichTextNode) {
	b.WriteString(n.Text)
	for i := range n.Children {
		flatten(b, &n.Children[i])
	}
}

// Clone returns a deep copy of the content.
func (c Content) Clone() Content {
	out := c

	if c.Nodes != nil {
		out.Nodes = cloneNodes(c.Nodes)
	}
	if c.Legacy != nil {
		out.Legacy = append([]byte(nil), c.Legacy...)
	}
	if c.Collaborators != nil {
		out.Collaborators = append([]string(nil), c.Collaborators...)
	}

	return out
}

func cloneNodes(nodes []RichTextNode) []RichTextNode {
	out := make([]RichTextNode, len(nodes))
	copy(out, nodes)
	for i := range out {
		if out[i].Children != nil {
			out[i].Children = cloneNodes(out[i].Children)
		}
		if out[i].Attrs != nil {
			attrs := make(map[string]string, len(out[i].Attrs))
			for k, v := range out[i].Attrs {
				attrs[k] = v
			}
			out[i].Attrs = attrs
		}
	}
	return out
}
