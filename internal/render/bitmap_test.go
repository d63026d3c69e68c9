package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeeftor/vmcap/internal/ocr"
)

func sampleBitmap() *ocr.CharacterBitmap {
	return &ocr.CharacterBitmap{
		Width:  3,
		Height: 2,
		Data: [][]bool{
			{true, false, true},
			{false, true, false},
		},
		Char: "x",
	}
}

func TestRenderBitmapPlain(t *testing.T) {
	var sb strings.Builder
	RenderBitmap(sampleBitmap(), &sb, false)
	assert.Equal(t, "##..##\n..##..\n", sb.String())
}

func TestRenderBitmapShortRowsAreBackground(t *testing.T) {
	bm := &ocr.CharacterBitmap{Width: 2, Height: 2, Data: [][]bool{{true}}}
	var sb strings.Builder
	RenderBitmap(bm, &sb, false)
	assert.Equal(t, "##..\n....\n", sb.String())
}

func TestFormatBitmapOutput(t *testing.T) {
	bm := sampleBitmap()
	out := FormatBitmapOutput(bm, false, false)
	assert.Contains(t, out, "Hex bitmap: "+ocr.FormatBitmapAsHex(bm))
	assert.Contains(t, out, `Character: "x"`)
	assert.NotContains(t, out, "##")

	assert.Contains(t, FormatBitmapOutput(bm, true, false), "##..##")
}
