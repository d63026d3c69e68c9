package cmd

import (
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/backend/qemu"
	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/filesystem"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/ocr"
	"github.com/jeeftor/vmcap/internal/params"
	"github.com/jeeftor/vmcap/internal/render"
	"github.com/jeeftor/vmcap/internal/utils"
)

var (
	ocrColumns      int
	ocrRows         int
	ocrTrainingData string
	ocrJSON         bool
	ocrSearch       ocr.SearchConfig
	ocrRegex        bool
	ocrColor        bool
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [vmid|image-file]",
	Short: "Recognize text on the VM console",
	Long: `Read the text of a character console. The source is either a VM ID, in
which case a screenshot is taken, or a PNG/PPM file.

The screen is cut into a grid of --columns x --rows cells and each cell is
looked up in the training data. Unknown cells print as ` + ocr.UnknownCharIndicator + `; teach them
with "ocr train".`,
	Args: cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		res := recognize(args)
		if ocrJSON {
			out, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
			utils.CheckError(err, "encoding result")
			fmt.Println(string(out))
			return
		}
		for _, line := range res.Text {
			fmt.Println(strings.TrimRight(line, " "))
		}
	},
}

var ocrFindCmd = &cobra.Command{
	Use:   "find <vmid|image-file> <text>",
	Short: "Search the console for text",
	Long: `Search the recognized console for text or, with --regex, a pattern.
Exit status is 0 when something matched, 1 when nothing did, 2 on error
and 3 for an invalid pattern.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		res := recognize(args[:1])
		var (
			results *ocr.SearchResults
			err     error
		)
		if ocrRegex {
			results, err = ocr.FindRegex(res, args[1], ocrSearch)
		} else {
			results = ocr.FindString(res, args[1], ocrSearch)
		}
		if err != nil {
			logging.UserErrorf("%v", err)
		} else {
			fmt.Print(ocr.FormatResults(results, ocrSearch))
		}
		contextManager.Shutdown()
		os.Exit(ocr.ExitCode(results, err))
	},
}

var ocrTrainCmd = &cobra.Command{
	Use:   "train <vmid|image-file> <known-text-file>",
	Short: "Teach the recognizer from a screen with known text",
	Long: `Pair the non-blank cells of the screen, in reading order, with the
characters of known-text-file (whitespace is skipped) and merge the result
into the training data.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		img := sourceImage(args[0])
		known, err := os.ReadFile(args[1])
		utils.CheckError(err, "reading known text")

		td, err := ocr.ExtractTrainingData(img, ocrConfig(), string(known))
		utils.CheckError(err, "extracting training data")

		path := trainingDataPath()
		existing, err := ocr.LoadTrainingData(path)
		if err != nil {
			logging.Debug("Starting new training data", "path", path, "error", err)
			existing = &ocr.TrainingData{}
		}
		before := len(existing.BitmapMap)
		existing.Merge(td)
		utils.CheckError(filesystem.EnsureDirectoryForFile(path), "creating training data directory")
		utils.CheckError(ocr.SaveTrainingData(existing, path), "saving training data")
		logging.Successf("Learned %d bitmaps (%d new), %d total in %s",
			len(td.BitmapMap), len(existing.BitmapMap)-before, len(existing.BitmapMap), path)
	},
}

var ocrCellCmd = &cobra.Command{
	Use:   "cell <vmid|image-file> <row> <col>",
	Short: "Show the bitmap of one character cell",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		row, err := strconv.Atoi(args[1])
		utils.CheckError(err, "parsing row")
		col, err := strconv.Atoi(args[2])
		utils.CheckError(err, "parsing column")

		res := recognize(args[:1])
		if row < 0 || row >= res.Rows || col < 0 || col >= res.Columns {
			utils.FatalError(utils.Usagef("cell %d,%d is outside the %dx%d grid", row, col, res.Columns, res.Rows), "ocr cell")
		}
		bm := res.CharBitmaps[row*res.Columns+col]
		fmt.Print(render.FormatBitmapOutput(&bm, true, ocrColor))
	},
}

func ocrConfig() ocr.Config {
	return ocr.Config{
		Columns:          ocrColumns,
		Rows:             ocrRows,
		TrainingDataPath: trainingDataPath(),
	}
}

func trainingDataPath() string {
	info := params.NewParameterResolver(nil).ResolveTrainingDataWithInfo([]string{ocrTrainingData}, 0)
	logging.Debug("Training data", "path", info.Value, "source", info.Source)
	if info.Source == "config" {
		// appConfig carries the expanded form.
		return appConfig.OCR.TrainingData
	}
	return info.Value
}

func recognize(args []string) *ocr.Result {
	cfg := ocrConfig()
	td, err := cfg.LoadTrainingData()
	if err != nil {
		logging.UserWarnf("No training data at %s; every character will be unknown", cfg.TrainingDataPath)
	}
	res, err := ocr.Recognize(sourceImage(firstArg(args)), cfg, td)
	utils.CheckError(err, "recognizing text")
	return res
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// sourceImage decodes source when it names an image file, otherwise treats
// it as a VM ID and takes a screenshot.
func sourceImage(source string) image.Image {
	if source != "" && filesystem.IsImageFile(source) && filesystem.Exists(source) {
		img, err := ocr.DecodeFile(source)
		utils.CheckError(err, "reading "+source)
		return img
	}
	vmid := resolveVMID([]string{source}, 0)
	machine := connectMachine(vmid, qemu.Options{})
	ctx, cancel := operationContext("ocr")
	defer cancel()
	img, err := capability.TakeScreenshot(ctx, machine)
	utils.CheckError(err, "taking screenshot")
	return img
}

func init() {
	pf := ocrCmd.PersistentFlags()
	pf.IntVarP(&ocrColumns, "columns", "c", ocr.DefaultColumns, "console columns")
	pf.IntVarP(&ocrRows, "rows", "r", ocr.DefaultRows, "console rows")
	pf.StringVar(&ocrTrainingData, "training-data", "", "training data file (default ocr.training_data)")
	ocrCmd.PreRun = applyOCRConfig

	ocrCmd.Flags().BoolVar(&ocrJSON, "json", false, "print the result as JSON")

	ocrFindCmd.Flags().BoolVar(&ocrRegex, "regex", false, "treat the query as a regular expression")
	ocrFindCmd.Flags().BoolVarP(&ocrSearch.IgnoreCase, "ignore-case", "i", false, "case-insensitive search")
	ocrFindCmd.Flags().BoolVar(&ocrSearch.FirstOnly, "first", false, "stop at the first match from the bottom")
	ocrFindCmd.Flags().BoolVarP(&ocrSearch.Quiet, "quiet", "q", false, "print nothing, only set the exit status")
	ocrFindCmd.Flags().BoolVarP(&ocrSearch.LineNumbers, "line-numbers", "n", false, "print line and column numbers")

	ocrCellCmd.Flags().BoolVar(&ocrColor, "color", true, "draw with terminal colors")

	for _, c := range []*cobra.Command{ocrFindCmd, ocrTrainCmd, ocrCellCmd} {
		c.PreRun = applyOCRConfig
	}
	ocrCmd.AddCommand(ocrFindCmd, ocrTrainCmd, ocrCellCmd)
	rootCmd.AddCommand(ocrCmd)
}

// applyOCRConfig takes the grid from the config unless flags override it.
func applyOCRConfig(cmd *cobra.Command, args []string) {
	if !cmd.Flags().Changed("columns") {
		ocrColumns = appConfig.OCR.Columns
	}
	if !cmd.Flags().Changed("rows") {
		ocrRows = appConfig.OCR.Rows
	}
}
