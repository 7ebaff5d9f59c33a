package service

import (
	"crypto/rand"
	"io"
	"math/big"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
)

// CodeAlphabet is Crockford base32: digits and capitals without I, L, O and U
const CodeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	codeLength    = 6
	unknownPrefix = "XX"
)

var codePrefixes = map[domain.Round]string{
	domain.RoundHopBao:   "HB",
	domain.RoundSoKhao:   "SK",
	domain.RoundBanKet:   "BK",
	domain.RoundChungKet: "CK",
}

// CodeGenerator issues confirmation codes such as HB-7K2M9Q
type CodeGenerator struct {
	random io.Reader
}

// NewCodeGenerator returns a generator backed by crypto/rand
func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{random: rand.Reader}
}

// Generate returns "<PREFIX>-<6 chars>" for round. Codes are not checked for uniqueness.
func (g *CodeGenerator) Generate(round string) (string, error) {
	prefix, ok := codePrefixes[domain.Round(round)]
	if !ok {
		prefix = unknownPrefix
	}

	buf := make([]byte, 0, len(prefix)+1+codeLength)
	buf = append(buf, prefix...)
	buf = append(buf, '-')

	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(g.random, max)
		if err != nil {
			return "", err
		}
		buf = append(buf, CodeAlphabet[n.Int64()])
	}
	return string(buf), nil
}
