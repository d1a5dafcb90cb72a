package crypt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/sirosfoundation/go-appserver/pkg/wire"
)

// ErrSelfTestMismatch reports a pair that did not reproduce the corpus.
var ErrSelfTestMismatch = errors.New("crypt: self-test mismatch")

var corpusLines = []string{
	"a",
	"ok",
	"The quick brown fox jumps over the lazy dog",
	"héllo wörld, ça va?",
	"日本語のテキストも通ること",
	"Ελληνικά και русский текст",
	"emoji 🎮🕹️👾 and symbols ∑∞≠",
	"tab\tseparated\tvalues",
	"",
	"trailing space ",
}

var corpus = buildCorpus()

// Corpus returns the canned frame stream used by SelfTest.
func Corpus() []byte {
	return slices.Clone(corpus)
}

func buildCorpus() []byte {
	var b strings.Builder
	for i, line := range corpusLines {
		b.WriteString(wire.Frame("Corpus", "Line", i, line))
		if i%3 == 0 {
			b.WriteByte(wire.Terminator)
		}
	}
	for i := 0; i < 64; i++ {
		b.WriteString(wire.Frame("Corpus", "Repeat", i, strings.Repeat(corpusLines[i%len(corpusLines)], i%9+1)))
	}
	wide := make([]any, 300)
	for i := range wide {
		wide[i] = strconv.Itoa(i * i)
	}
	b.WriteString(wire.Frame("Corpus", "Wide", wide...))
	b.WriteString(wire.Frame("Corpus", "Long", strings.Repeat("0123456789abcdef", 512)))
	b.WriteString(wire.Frame("Corpus", "End"))
	return []byte(b.String())
}

// SelfTest checks that pairs from f survive arbitrary fragmentation. The
// corpus is encrypted in random chunks by one pair, the concatenated
// ciphertext is re-split at unrelated boundaries and decrypted piecewise by
// a second pair, and the decoded frames must equal the original ones.
func SelfTest(f Factory, rng *rand.Rand) (err error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pair panicked: %v", ErrSelfTestMismatch, r)
		}
	}()

	sender, receiver := f(), f()
	if sender.Encrypt == nil || receiver.Decrypt == nil {
		return fmt.Errorf("%w: incomplete pair", ErrSelfTestMismatch)
	}

	var ciphertext []byte
	for _, chunk := range chunks(corpus, rng) {
		ciphertext = append(ciphertext, sender.Encrypt(slices.Clone(chunk))...)
	}

	var dec wire.Decoder
	var got []string
	for _, chunk := range chunks(ciphertext, rng) {
		got = append(got, dec.Feed(receiver.Decrypt(slices.Clone(chunk)))...)
	}

	var want wire.Decoder
	expected := want.Feed(corpus)

	if len(got) != len(expected) {
		return fmt.Errorf("%w: decoded %d frames, want %d", ErrSelfTestMismatch, len(got), len(expected))
	}
	for i := range expected {
		if !slices.Equal(wire.Split(got[i]), wire.Split(expected[i])) {
			return fmt.Errorf("%w: frame %d differs", ErrSelfTestMismatch, i)
		}
	}
	if dec.Buffered() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrSelfTestMismatch, dec.Buffered())
	}
	return nil
}

func chunks(p []byte, rng *rand.Rand) [][]byte {
	var out [][]byte
	for len(p) > 0 {
		n := min(1+rng.IntN(97), len(p))
		out = append(out, p[:n])
		p = p[n:]
	}
	return out
}
