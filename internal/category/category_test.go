package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllDeclaredOrder(t *testing.T) {
	assert.Equal(t, []Category{Legal, Technical, Financial, HRDocs, General}, All())

	got := All()
	got[0] = General
	assert.Equal(t, Legal, All()[0], "All must return a copy")
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"legal", Legal, true},
		{"  Technical ", Technical, true},
		{"FINANCIAL", Financial, true},
		{"hr_docs", HRDocs, true},
		{"hr", HRDocs, true},
		{"general", General, true},
		{"marketing", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Parse(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrototypeDefinedForEveryCategory(t *testing.T) {
	for _, c := range All() {
		assert.NotEmpty(t, Prototype(c), c)
		assert.Equal(t, c, All()[c.Index()])
	}
	assert.Equal(t, -1, Category("nope").Index())
}
