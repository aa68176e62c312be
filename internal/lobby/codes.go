package lobby

import (
	"context"
	"math/rand"
	"strings"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength      = 4
	codeMaxAttempts = 10
)

// randomCode draws a 4-letter uppercase game code.
func randomCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}
	return b.String()
}

// allocateCode draws random codes until exists reports one unused,
// giving up with ErrCodeSpaceExhausted after the retry budget. Codes
// only need to be unique among currently live games.
func allocateCode(ctx context.Context, exists func(ctx context.Context, code string) (bool, error)) (string, error) {
	for i := 0; i < codeMaxAttempts; i++ {
		code := randomCode()
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}
