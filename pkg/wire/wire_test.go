package wire

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct{ x, y int }

func (p point) String() string { return strconv.Itoa(p.x) + "," + strconv.Itoa(p.y) }

func TestFormat(t *testing.T) {
	got := Format("Chat", "Say", "hello", 42, 1.5, true, []byte("raw"), point{1, 2})
	assert.Equal(t, "Chat\x1fSay\x1fhello\x1f42\x1f1.5\x1ftrue\x1fraw\x1f1,2", got)
}

func TestFormat_NoArgs(t *testing.T) {
	assert.Equal(t, "Svc\x1fMethod", Format("Svc", "Method"))
	assert.Equal(t, "Svc\x1fMethod\x1e", Frame("Svc", "Method"))
}

func TestFormat_Duration(t *testing.T) {
	assert.Equal(t, "Svc\x1fWait\x1f2s", Format("Svc", "Wait", 2*time.Second))
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"Svc", "Method", "a", "", "b"}, Split("Svc\x1fMethod\x1fa\x1f\x1fb"))
	assert.Equal(t, []string{"only"}, Split("only"))
}

func TestDecoder_SingleFrame(t *testing.T) {
	var d Decoder
	frames := d.Feed([]byte(Frame("Svc", "Method", "x")))
	require.Len(t, frames, 1)
	assert.Equal(t, []string{"Svc", "Method", "x"}, Split(frames[0]))
	assert.Zero(t, d.Buffered())
}

func TestDecoder_PartialFrameStaysBuffered(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte("Svc\x1fMe")))
	assert.Equal(t, 6, d.Buffered())

	frames := d.Feed([]byte("thod\x1eSvc"))
	require.Len(t, frames, 1)
	assert.Equal(t, "Svc\x1fMethod", frames[0])
	assert.Equal(t, 3, d.Buffered())

	d.Reset()
	assert.Zero(t, d.Buffered())
}

func TestDecoder_DropsEmptyFrames(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte{Terminator, Terminator, Terminator}))
	assert.Zero(t, d.Buffered())
}

func TestDecoder_TwoMessagesWithPokeBetween(t *testing.T) {
	var d Decoder
	in := "Svc\x1fMethod\x1e\x1eSvc\x1fMethod2\x1e"
	frames := d.Feed([]byte(in))
	require.Len(t, frames, 2)
	assert.Equal(t, []string{"Svc", "Method"}, Split(frames[0]))
	assert.Equal(t, []string{"Svc", "Method2"}, Split(frames[1]))
}

func TestDecoder_FiveThousandArguments(t *testing.T) {
	args := make([]any, 5000)
	for i := range args {
		args[i] = i
	}

	var d Decoder
	frames := d.Feed([]byte(Frame("Bulk", "Load", args...)))
	require.Len(t, frames, 1)

	tokens := Split(frames[0])
	require.Len(t, tokens, 5002)
	for i := 0; i < 5000; i++ {
		assert.Equal(t, strconv.Itoa(i), tokens[i+2])
	}
}

func TestDecoder_RoundTripUnderAnyChunking(t *testing.T) {
	var stream strings.Builder
	var want [][]string
	for i := 0; i < 200; i++ {
		args := []any{i, "héllo wörld", strings.Repeat("z", i%37)}
		if i%5 == 0 {
			stream.WriteByte(Terminator)
		}
		stream.WriteString(Frame("Svc", "M"+strconv.Itoa(i), args...))
		want = append(want, Split(Format("Svc", "M"+strconv.Itoa(i), args...)))
	}
	data := []byte(stream.String())

	chunkers := map[string]func(int) int{
		"one byte":     func(int) int { return 1 },
		"whole buffer": func(rest int) int { return rest },
		"primes":       func(int) int { return 7 },
	}
	rng := rand.New(rand.NewPCG(1, 2))
	chunkers["random"] = func(rest int) int { return 1 + rng.IntN(64) }

	for name, next := range chunkers {
		t.Run(name, func(t *testing.T) {
			var d Decoder
			var got [][]string
			for off := 0; off < len(data); {
				n := min(next(len(data)-off), len(data)-off)
				for _, f := range d.Feed(data[off : off+n]) {
					got = append(got, Split(f))
				}
				off += n
			}
			assert.Equal(t, want, got)
			assert.Zero(t, d.Buffered())
		})
	}
}
