// Package ocr recognizes text on fixed-grid console screenshots by matching
// each character cell against trained bitmaps.
package ocr

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/spakin/netpbm"
)

// UnknownCharIndicator marks cells that match no trained bitmap. It is not
// '?' so real question marks stay distinguishable.
const UnknownCharIndicator = "¿"

const (
	DefaultColumns              = 160
	DefaultRows                 = 50
	DefaultTrainingDataFilename = ".vmcap_training_data.json"
)

// textThreshold is the squared RGB distance from the background above which
// a pixel counts as ink.
const textThreshold = 30 * 30

// Config is the character grid of the console.
type Config struct {
	Columns          int
	Rows             int
	TrainingDataPath string
}

// LoadTrainingData loads the configured training file, falling back to
// DefaultTrainingDataPath.
func (c Config) LoadTrainingData() (*TrainingData, error) {
	path := c.TrainingDataPath
	if path == "" {
		path = DefaultTrainingDataPath()
	}
	return LoadTrainingData(path)
}

// DefaultTrainingDataPath returns ~/.vmcap_training_data.json, or the bare
// file name when the home directory is unknown.
func DefaultTrainingDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultTrainingDataFilename
	}
	return filepath.Join(home, DefaultTrainingDataFilename)
}

// CharacterBitmap is the ink mask of one cell.
type CharacterBitmap struct {
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Data   [][]bool `json:"data"`
	Char   string   `json:"char,omitempty"`
}

// Result holds the recognized grid.
type Result struct {
	Columns     int               `json:"columns"`
	Rows        int               `json:"rows"`
	CellWidth   int               `json:"cellWidth"`
	CellHeight  int               `json:"cellHeight"`
	Text        []string          `json:"text"`
	CharBitmaps []CharacterBitmap `json:"-"`
}

// TrainingData maps hex-encoded bitmaps to characters.
type TrainingData struct {
	BitmapMap map[string]string `json:"bitmapMap"`
}

// DecodeFile decodes a PPM/PGM/PBM screenshot, or any format registered
// with the image package.
func DecodeFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open screenshot: %w", err)
	}
	defer file.Close()

	img, err := netpbm.Decode(file, nil)
	if err == nil {
		return img, nil
	}
	if _, serr := file.Seek(0, 0); serr != nil {
		return nil, serr
	}
	decoded, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return decoded, nil
}

// Extract slices img into cfg's grid and computes each cell's bitmap.
func Extract(img image.Image, cfg Config) (*Result, error) {
	if cfg.Columns <= 0 || cfg.Rows <= 0 {
		return nil, fmt.Errorf("grid must be positive: %dx%d", cfg.Columns, cfg.Rows)
	}
	b := img.Bounds()
	cellW, cellH := b.Dx()/cfg.Columns, b.Dy()/cfg.Rows
	if cellW <= 0 || cellH <= 0 {
		return nil, fmt.Errorf("invalid cell dimensions: %dx%d", cellW, cellH)
	}

	logging.Debug("Extracting character cells",
		"imageSize", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		"grid", fmt.Sprintf("%dx%d", cfg.Columns, cfg.Rows),
		"cell", fmt.Sprintf("%dx%d", cellW, cellH))

	res := &Result{
		Columns:     cfg.Columns,
		Rows:        cfg.Rows,
		CellWidth:   cellW,
		CellHeight:  cellH,
		Text:        make([]string, cfg.Rows),
		CharBitmaps: make([]CharacterBitmap, 0, cfg.Columns*cfg.Rows),
	}
	for row := 0; row < cfg.Rows; row++ {
		for col := 0; col < cfg.Columns; col++ {
			x, y := b.Min.X+col*cellW, b.Min.Y+row*cellH
			res.CharBitmaps = append(res.CharBitmaps, extractBitmap(img, x, y, cellW, cellH))
		}
	}
	return res, nil
}

// Recognize extracts the grid and maps each cell through td. Blank cells
// become spaces. A nil td leaves every inked cell unknown.
func Recognize(img image.Image, cfg Config, td *TrainingData) (*Result, error) {
	res, err := Extract(img, cfg)
	if err != nil {
		return nil, err
	}
	var known map[string]string
	if td != nil {
		known = td.BitmapMap
	}

	idx := 0
	for row := 0; row < res.Rows; row++ {
		var line strings.Builder
		for col := 0; col < res.Columns; col++ {
			bm := &res.CharBitmaps[idx]
			idx++
			if ch, ok := known[FormatBitmapAsHex(bm)]; ok {
				bm.Char = ch
			} else if isBlank(bm) {
				bm.Char = " "
			} else {
				bm.Char = UnknownCharIndicator
			}
			line.WriteString(bm.Char)
		}
		res.Text[row] = line.String()
	}
	return res, nil
}

func colorKey(c color.Color) [3]uint8 {
	r, g, b, _ := c.RGBA()
	return [3]uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
}

// extractBitmap marks pixels that differ from the cell's most common colour.
func extractBitmap(img image.Image, x, y, w, h int) CharacterBitmap {
	counts := make(map[[3]uint8]int)
	for cy := 0; cy < h; cy++ {
		for cx := 0; cx < w; cx++ {
			counts[colorKey(img.At(x+cx, y+cy))]++
		}
	}
	var bg [3]uint8
	best := -1
	for k, n := range counts {
		// Ties go to the darker colour so the result does not depend on map order.
		if n > best || (n == best && sum(k) < sum(bg)) {
			bg, best = k, n
		}
	}

	bm := CharacterBitmap{Width: w, Height: h, Data: make([][]bool, h)}
	for cy := 0; cy < h; cy++ {
		bm.Data[cy] = make([]bool, w)
		for cx := 0; cx < w; cx++ {
			p := colorKey(img.At(x+cx, y+cy))
			dr := int(p[0]) - int(bg[0])
			dg := int(p[1]) - int(bg[1])
			db := int(p[2]) - int(bg[2])
			bm.Data[cy][cx] = dr*dr+dg*dg+db*db > textThreshold
		}
	}
	return bm
}

func sum(k [3]uint8) int { return int(k[0]) + int(k[1]) + int(k[2]) }

func isBlank(bm *CharacterBitmap) bool {
	for _, row := range bm.Data {
		for _, on := range row {
			if on {
				return false
			}
		}
	}
	return true
}

// FormatBitmapAsHex encodes a bitmap row by row as "0x" plus fixed width
// hex digits.
func FormatBitmapAsHex(bm *CharacterBitmap) string {
	var sb strings.Builder
	sb.WriteString("0x")
	digits := (bm.Width + 3) / 4
	for y := 0; y < bm.Height; y++ {
		var row uint64
		for x := 0; x < bm.Width; x++ {
			if y < len(bm.Data) && x < len(bm.Data[y]) && bm.Data[y][x] {
				row |= 1 << (bm.Width - 1 - x)
			}
		}
		fmt.Fprintf(&sb, "%0*X", digits, row)
	}
	return sb.String()
}

// LoadTrainingData reads a training data file.
func LoadTrainingData(path string) (*TrainingData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read training data: %w", err)
	}
	var td TrainingData
	if err := json.Unmarshal(data, &td); err != nil {
		return nil, fmt.Errorf("failed to unmarshal training data: %w", err)
	}
	if td.BitmapMap == nil {
		td.BitmapMap = make(map[string]string)
	}
	logging.Debug("Training data loaded", "path", path, "characters", len(td.BitmapMap))
	return &td, nil
}

// SaveTrainingData writes td with its entries ordered by character.
func SaveTrainingData(td *TrainingData, path string) error {
	type entry struct{ hex, char string }
	entries := make([]entry, 0, len(td.BitmapMap))
	for h, c := range td.BitmapMap {
		entries = append(entries, entry{h, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].char != entries[j].char {
			return entries[i].char < entries[j].char
		}
		return entries[i].hex < entries[j].hex
	})

	// encoding/json sorts map keys, so build the object by hand to keep
	// the character order.
	var sb strings.Builder
	sb.WriteString("{\n  \"bitmapMap\": {")
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(",")
		}
		k, _ := json.Marshal(e.hex)
		v, _ := json.Marshal(e.char)
		fmt.Fprintf(&sb, "\n    %s: %s", k, v)
	}
	sb.WriteString("\n  }\n}\n")
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// ExtractTrainingData pairs the non-blank cells of img, in reading order,
// with the runes of knownText (whitespace in knownText is skipped).
func ExtractTrainingData(img image.Image, cfg Config, knownText string) (*TrainingData, error) {
	res, err := Extract(img, cfg)
	if err != nil {
		return nil, err
	}
	chars := []rune(strings.Join(strings.Fields(knownText), ""))

	td := &TrainingData{BitmapMap: make(map[string]string)}
	next := 0
	for i := range res.CharBitmaps {
		if next >= len(chars) {
			break
		}
		bm := &res.CharBitmaps[i]
		if isBlank(bm) {
			continue
		}
		td.BitmapMap[FormatBitmapAsHex(bm)] = string(chars[next])
		next++
	}
	if next == 0 {
		return nil, fmt.Errorf("no characters were mapped to bitmaps")
	}
	return td, nil
}

// Merge copies the entries of other into td, overwriting duplicates.
func (td *TrainingData) Merge(other *TrainingData) {
	if td.BitmapMap == nil {
		td.BitmapMap = make(map[string]string)
	}
	for k, v := range other.BitmapMap {
		td.BitmapMap[k] = v
	}
}
