package service

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^[A-Z]{2}-[0-9A-HJKMNP-TV-Z]{6}$`)

func TestCodeGenerator_Format(t *testing.T) {
	tests := []struct {
		round  string
		prefix string
	}{
		{"hop-bao", "HB-"},
		{"so-khao", "SK-"},
		{"ban-ket", "BK-"},
		{"chung-ket", "CK-"},
		{"so-tuyen", "XX-"},
		{"", "XX-"},
	}

	for _, tt := range tests {
		t.Run(tt.round, func(t *testing.T) {
			for i := 0; i < 200; i++ {
				code, err := NewCodeGenerator().Generate(tt.round)
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(code, tt.prefix), code)
				assert.Regexp(t, codePattern, code)
			}
		})
	}
}

func TestCodeAlphabet_ExcludesConfusables(t *testing.T) {
	assert.Len(t, CodeAlphabet, 32)
	for _, c := range "ILOU" {
		assert.NotContains(t, CodeAlphabet, string(c))
	}
}

func TestCodeGenerator_Deterministic(t *testing.T) {
	// rand.Int reads one byte per draw for a 32-symbol range
	g := &CodeGenerator{random: bytes.NewReader([]byte{0, 1, 2, 29, 30, 31})}

	code, err := g.Generate("ban-ket")

	require.NoError(t, err)
	assert.Equal(t, "BK-012XYZ", code)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestCodeGenerator_RandomFailure(t *testing.T) {
	g := &CodeGenerator{random: failingReader{}}

	code, err := g.Generate("hop-bao")

	assert.Error(t, err)
	assert.Empty(t, code)
}
