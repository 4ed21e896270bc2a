package rest

import (
	"encoding/base64"
	"math/rand"
)

const padChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// EncodePassword applies the backend's expected password obfuscation:
// reverse, base64, pad with five random characters on each side, base64
// again. This matches what the server decodes; it provides no secrecy.
func EncodePassword(password string) string {
	reversed := reverseString(password)
	inner := base64.StdEncoding.EncodeToString([]byte(reversed))
	padded := randomPad(5) + inner + randomPad(5)
	return base64.StdEncoding.EncodeToString([]byte(padded))
}

// DecodePassword reverses EncodePassword. Kept for parity with the wire
// format; the client itself never needs to decode.
func DecodePassword(encoded string) (string, error) {
	outer, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(outer) < 10 {
		return "", base64.CorruptInputError(len(outer))
	}
	inner, err := base64.StdEncoding.DecodeString(string(outer[5 : len(outer)-5]))
	if err != nil {
		return "", err
	}
	return reverseString(string(inner)), nil
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func randomPad(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = padChars[rand.Intn(len(padChars))]
	}
	return string(out)
}
