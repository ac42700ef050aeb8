package parse

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

const (
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	randLen       = 4
	DefaultPrefix = "CODE"
)

var (
	codeRe   = regexp.MustCompile(`^XN-([A-Z0-9]+)-(\d{2,})-([A-Z0-9]{4})$`)
	prefixRe = regexp.MustCompile(`^[A-Z0-9]{1,16}$`)
)

// ParsedCode holds the structured parts of a pickup code XN-{PREFIX}-{NN}-{RAND4}.
type ParsedCode struct {
	Prefix string
	Seq    int
	Rand   string
}

// NormalizeCode trims and upper-cases a pickup code as typed by a person.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ParseCode splits a pickup code into its parts.
func ParseCode(raw string) (ParsedCode, error) {
	m := codeRe.FindStringSubmatch(NormalizeCode(raw))
	if m == nil {
		return ParsedCode{}, fmt.Errorf("unable to parse pickup code: %q", raw)
	}
	seq, err := strconv.Atoi(m[2])
	if err != nil {
		return ParsedCode{}, fmt.Errorf("unable to parse sequence of %q: %w", raw, err)
	}
	return ParsedCode{Prefix: m[1], Seq: seq, Rand: m[3]}, nil
}

// NormalizePrefix upper-cases a prefix and checks it is 1-16 letters or digits.
// An empty prefix becomes DefaultPrefix.
func NormalizePrefix(raw string) (string, error) {
	p := NormalizeCode(raw)
	if p == "" {
		return DefaultPrefix, nil
	}
	if !prefixRe.MatchString(p) {
		return "", fmt.Errorf("invalid prefix %q: use 1-16 letters or digits", raw)
	}
	return p, nil
}

// NextSeq returns the sequence number following the highest one used by
// existing codes with the given prefix.
func NextSeq(prefix string, existing []string) int {
	next := 1
	for _, c := range existing {
		p, err := ParseCode(c)
		if err != nil || p.Prefix != prefix {
			continue
		}
		if p.Seq >= next {
			next = p.Seq + 1
		}
	}
	return next
}

// GenerateCodes builds count codes numbered from start. rnd supplies the
// random suffix; nil means crypto/rand.
func GenerateCodes(prefix string, start, count int, rnd io.Reader) ([]string, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		suffix, err := randomString(rnd, randLen)
		if err != nil {
			return nil, err
		}
		codes = append(codes, fmt.Sprintf("XN-%s-%02d-%s", prefix, start+i, suffix))
	}
	return codes, nil
}

func randomString(rnd io.Reader, n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rnd, max)
		if err != nil {
			return "", fmt.Errorf("failed to read randomness: %w", err)
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b), nil
}
