package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		params QueryParams
		fields []string
	}{
		{"ok", QueryParams{Question: "what is the refund policy?"}, nil},
		{"ok with handle", QueryParams{Question: "q", Handle: "team_docs-2"}, nil},
		{"missing question", QueryParams{}, []string{"Question"}},
		{"too long", QueryParams{Question: strings.Repeat("a", 4001)}, []string{"Question"}},
		{"bad handle", QueryParams{Question: "q", Handle: "../etc"}, []string{"Handle"}},
		{"upper case handle", QueryParams{Question: "q", Handle: "Docs"}, []string{"Handle"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&tt.params)
			if tt.fields == nil {
				assert.Empty(t, errs)
				return
			}
			for _, f := range tt.fields {
				assert.Contains(t, errs, f)
			}
		})
	}
}

func TestValidHandle(t *testing.T) {
	assert.True(t, ValidHandle("uploaded_vectors"))
	assert.False(t, ValidHandle(""))
	assert.False(t, ValidHandle("_leading"))
	assert.False(t, ValidHandle(strings.Repeat("a", 65)))
}
