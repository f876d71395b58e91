package fluid

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nskv/kvsd/pkg/kvserr"
)

// StringType names a FLUID string encoding.
type StringType int

const (
	StringDothex StringType = iota + 1
	StringMnemonic
	StringF58
	StringInteger
)

const b58digits = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// f58Prefix returns the prefix used when encoding an F58 string: a UTF-8
// "ƒ" by default, or an ASCII "f" when the environment requests it.
// Decoding accepts either prefix regardless of this setting.
func f58Prefix() string {
	if v := os.Getenv("KVSD_FLUID_ASCII"); v != "" && v != "0" {
		return "f"
	}
	return "ƒ"
}

// EncodeDothex renders id as four 16-bit hex groups joined by '.'.
func EncodeDothex(id ID) string {
	v := uint64(id)
	return fmt.Sprintf("%04x.%04x.%04x.%04x",
		(v>>48)&0xffff, (v>>32)&0xffff, (v>>16)&0xffff, v&0xffff)
}

// DecodeDothex parses a dothex string back into an ID.
func DecodeDothex(s string) (ID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%w: dothex fluid must have 4 groups, got %d", kvserr.ErrInval, len(parts))
	}
	var v uint64
	for _, p := range parts {
		g, err := strconv.ParseUint(p, 16, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid dothex group %q", kvserr.ErrInval, p)
		}
		v = v<<16 | g
	}
	id := ID(v)
	return id, id.Validate()
}

// EncodeF58 renders id as base58 with the prefix chosen by f58Prefix.
func EncodeF58(id ID) string {
	v := uint64(id)
	if v == 0 {
		return f58Prefix() + string(b58digits[0])
	}
	var rev []byte
	for v > 0 {
		rev = append(rev, b58digits[v%58])
		v /= 58
	}
	buf := make([]byte, len(rev))
	for i, c := range rev {
		buf[len(rev)-1-i] = c
	}
	return f58Prefix() + string(buf)
}

// DecodeF58 parses a base58-with-prefix string back into an ID. Either the
// UTF-8 or ASCII prefix is accepted regardless of KVSD_FLUID_ASCII.
func DecodeF58(s string) (ID, error) {
	body := s
	for _, prefix := range []string{"ƒ", "f"} {
		if strings.HasPrefix(s, prefix) {
			body = s[len(prefix):]
			break
		}
	}
	if body == s {
		return 0, fmt.Errorf("%w: missing f58 prefix", kvserr.ErrInval)
	}
	if body == "" {
		return 0, fmt.Errorf("%w: empty f58 body", kvserr.ErrInval)
	}

	var v uint64
	scale := uint64(1)
	for i := len(body) - 1; i >= 0; i-- {
		idx := strings.IndexByte(b58digits, body[i])
		if idx < 0 {
			return 0, fmt.Errorf("%w: invalid base58 digit %q", kvserr.ErrInval, body[i])
		}
		v += uint64(idx) * scale
		scale *= 58
	}
	id := ID(v)
	return id, id.Validate()
}

// mnemonicWords is a small embedded wordlist used to render an ID as
// hyphenated words, one word per byte. This replaces the original's
// dedicated mnemonic-encoding library (not present in the retrieved
// source tree): a byte-indexed 256-word table gives the same round-trip
// property without porting that library's phonetic wordlist.
var mnemonicWords = buildMnemonicWords()

func buildMnemonicWords() [256]string {
	syllables := []string{
		"ba", "be", "bi", "bo", "bu", "da", "de", "di", "do", "du",
		"fa", "fe", "fi", "fo", "fu", "ga", "ge", "gi", "go", "gu",
		"ha", "he", "hi", "ho", "hu", "ja", "je", "ji", "jo", "ju",
		"ka", "ke", "ki", "ko", "ku", "la", "le", "li", "lo", "lu",
		"ma", "me", "mi", "mo", "mu", "na", "ne", "ni", "no", "nu",
		"pa", "pe", "pi", "po", "pu", "ra", "re", "ri", "ro", "ru",
		"sa", "se", "si", "so", "su", "ta", "te", "ti", "to", "tu",
	}
	var words [256]string
	for i := range words {
		a := syllables[i%len(syllables)]
		b := syllables[(i/len(syllables))%len(syllables)]
		words[i] = a + b
	}
	return words
}

func mnemonicIndex(word string) (int, bool) {
	for i, w := range mnemonicWords {
		if w == word {
			return i, true
		}
	}
	return 0, false
}

// EncodeMnemonic renders id as 8 hyphen-joined words, one per byte,
// most-significant first.
func EncodeMnemonic(id ID) string {
	v := uint64(id)
	words := make([]string, 8)
	for i := 0; i < 8; i++ {
		shift := uint(56 - 8*i)
		words[i] = mnemonicWords[(v>>shift)&0xff]
	}
	return strings.Join(words, "-")
}

// DecodeMnemonic parses a mnemonic string back into an ID.
func DecodeMnemonic(s string) (ID, error) {
	words := strings.Split(s, "-")
	if len(words) != 8 {
		return 0, fmt.Errorf("%w: mnemonic fluid must have 8 words, got %d", kvserr.ErrInval, len(words))
	}
	var v uint64
	for _, w := range words {
		idx, ok := mnemonicIndex(w)
		if !ok {
			return 0, fmt.Errorf("%w: unknown mnemonic word %q", kvserr.ErrInval, w)
		}
		v = v<<8 | uint64(idx)
	}
	id := ID(v)
	return id, id.Validate()
}

// EncodeInteger renders id as a decimal string.
func EncodeInteger(id ID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// DecodeInteger parses a decimal or 0x-prefixed hex string into an ID.
func DecodeInteger(s string) (ID, error) {
	base := 10
	trimmed := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		trimmed = s[2:]
	}
	v, err := strconv.ParseUint(trimmed, base, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid integer fluid %q", kvserr.ErrInval, s)
	}
	id := ID(v)
	return id, id.Validate()
}

// Encode renders id under the requested string type.
func Encode(id ID, t StringType) (string, error) {
	switch t {
	case StringDothex:
		return EncodeDothex(id), nil
	case StringMnemonic:
		return EncodeMnemonic(id), nil
	case StringF58:
		return EncodeF58(id), nil
	case StringInteger:
		return EncodeInteger(id), nil
	default:
		return "", fmt.Errorf("%w: unknown fluid string type %d", kvserr.ErrInval, t)
	}
}

// DetectType guesses a FLUID string's encoding without assuming it is
// correct; auto-detect precedence is '.' -> dothex, '-' -> mnemonic, a
// recognized f58 prefix -> f58, else integer.
func DetectType(s string) StringType {
	switch {
	case strings.Contains(s, "."):
		return StringDothex
	case strings.Contains(s, "-"):
		return StringMnemonic
	case strings.HasPrefix(s, "ƒ") || strings.HasPrefix(s, "f"):
		return StringF58
	default:
		return StringInteger
	}
}

// Parse auto-detects s's encoding and decodes it.
func Parse(s string) (ID, error) {
	switch DetectType(s) {
	case StringDothex:
		return DecodeDothex(s)
	case StringMnemonic:
		return DecodeMnemonic(s)
	case StringF58:
		return DecodeF58(s)
	default:
		return DecodeInteger(s)
	}
}
