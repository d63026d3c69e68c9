// Package render draws OCR cell bitmaps for `ocr train` and `ocr debug`.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/jeeftor/vmcap/internal/ocr"
	"github.com/jeeftor/vmcap/internal/styles"
)

var (
	inkStyle        = styles.CreateBgStyle(0, 0, 0)
	backgroundStyle = styles.CreateBgStyle(128, 128, 128)
)

// RenderBitmap writes one line per bitmap row, two columns per pixel. With
// useColor the pixels are lipgloss blocks, otherwise '#' and '.'.
func RenderBitmap(bitmap *ocr.CharacterBitmap, w io.Writer, useColor bool) {
	for y := 0; y < bitmap.Height; y++ {
		for x := 0; x < bitmap.Width; x++ {
			ink := y < len(bitmap.Data) && x < len(bitmap.Data[y]) && bitmap.Data[y][x]
			switch {
			case useColor && ink:
				fmt.Fprint(w, inkStyle.Render("  "))
			case useColor:
				fmt.Fprint(w, backgroundStyle.Render("  "))
			case ink:
				fmt.Fprint(w, "##")
			default:
				fmt.Fprint(w, "..")
			}
		}
		fmt.Fprintln(w)
	}
}

// FormatBitmapOutput returns the hex key of bitmap, followed by its drawing
// when draw is set.
func FormatBitmapOutput(bitmap *ocr.CharacterBitmap, draw, useColor bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hex bitmap: %s\n", ocr.FormatBitmapAsHex(bitmap))
	if bitmap.Char != "" {
		fmt.Fprintf(&sb, "Character: %q\n", bitmap.Char)
	}
	if draw {
		sb.WriteString("\n")
		RenderBitmap(bitmap, &sb, useColor)
	}
	return sb.String()
}
