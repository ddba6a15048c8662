// File path: internal/llm/parse_test.go
package llm

import (
	"errors"
	"testing"
)

type extractionReply struct {
	Nodes []struct {
		ID         string  `json:"id"`
		Type       string  `json:"type"`
		Content    string  `json:"content"`
		Confidence float64 `json:"confidence"`
	} `json:"nodes"`
}

func TestDecodeJSONPlain(t *testing.T) {
	var out extractionReply
	raw := `{"nodes":[{"id":"n1","type":"TestPoint","content":"a","confidence":0.9}]}`
	if err := DecodeJSON(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Nodes) != 1 || out.Nodes[0].ID != "n1" {
		t.Fatalf("unexpected decode result: %+v", out)
	}
}

func TestDecodeJSONStripsFencesAndProse(t *testing.T) {
	var out extractionReply
	raw := "Here is the result:\n```json\n{\"nodes\":[{\"id\":\"n1\",\"type\":\"Risk\",\"content\":\"b\",\"confidence\":0.7}]}\n```\nLet me know if you need more."
	if err := DecodeJSON(raw, &out); err != nil {
		t.Fatalf("decode fenced: %v", err)
	}
	if len(out.Nodes) != 1 || out.Nodes[0].Type != "Risk" {
		t.Fatalf("unexpected decode result: %+v", out)
	}
}

func TestDecodeJSONMalformed(t *testing.T) {
	var out extractionReply
	for _, raw := range []string{"", "not json at all", `{"nodes": [`} {
		err := DecodeJSON(raw, &out)
		if !errors.Is(err, ErrMalformedOutput) {
			t.Fatalf("raw %q: expected ErrMalformedOutput, got %v", raw, err)
		}
	}
}
