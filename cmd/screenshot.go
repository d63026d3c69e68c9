package cmd

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spakin/netpbm"
	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/backend/qemu"
	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/filesystem"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/params"
	"github.com/jeeftor/vmcap/internal/utils"
)

var (
	screenshotFormat string
	screenshotDevice int
)

var screenshotCmd = &cobra.Command{
	Use:   "screenshot [vmid] [output-file]",
	Short: "Take a screenshot of the VM",
	Long: `Capture a framebuffer of the VM and save it as PNG or PPM.

The format comes from --format, then the output file extension, then
screenshot.format in the config.

Examples:
  vmcap screenshot 106 screen.png
  vmcap screenshot 106 screen.ppm
  vmcap screenshot 106 second-display.png --device 1`,
	Args: cobra.RangeArgs(0, 2),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := resolveVMID(args, 0)
		resolver := params.NewParameterResolver(nil)
		outputFile := resolver.ResolveOutputFile(args, 1)
		if outputFile == "" {
			utils.FatalError(utils.Usagef("output file is required: provide as argument or set VMCAP_OUTPUT_FILE"), "screenshot")
		}
		format := screenshotFormatFor(resolver, outputFile)

		logger := logging.NewContextualLogger(vmid, "screenshot")
		logger.Debug("Screenshot command started", "output_file", outputFile, "format", format)

		utils.CheckError(filesystem.EnsureDirectoryForFile(outputFile), "creating output directory")
		machine := connectMachine(vmid, qemu.Options{})

		ctx, cancel := operationContext("screenshot")
		defer cancel()

		start := time.Now()
		img, err := screenshotFromDevice(ctx, machine, screenshotDevice)
		utils.CheckError(err, "taking screenshot")

		f, err := os.Create(outputFile)
		utils.CheckError(err, "creating output file")
		err = encodeImage(f, img, format)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		utils.CheckError(err, "writing screenshot")

		if stat, statErr := os.Stat(outputFile); statErr == nil {
			logging.LogScreenshot(vmid, outputFile, format, stat.Size(), time.Since(start))
		}
		b := img.Bounds()
		logging.Successf("Screenshot saved to %s (%dx%d %s)", outputFile, b.Dx(), b.Dy(), format)
	},
}

func screenshotFormatFor(resolver *params.ParameterResolver, outputFile string) string {
	if screenshotFormat != "" {
		return resolver.ResolveScreenshotFormat(screenshotFormat)
	}
	switch ext := filesystem.GetFileExtension(outputFile); ext {
	case "png", "ppm":
		return ext
	}
	return resolver.ResolveScreenshotFormat("")
}

// screenshotFromDevice captures the first framebuffer of the index-th
// graphics device.
func screenshotFromDevice(ctx context.Context, p capability.ScreenshotProvider, index int) (image.Image, error) {
	devices, err := p.GraphicsDevices(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(devices) {
		return nil, fmt.Errorf("graphics device %d does not exist (%d found)", index, len(devices))
	}
	fbs := devices[index].Framebuffers()
	if len(fbs) == 0 {
		return nil, fmt.Errorf("graphics device %d has no framebuffer: %w", index, capability.ErrNoValue)
	}
	return fbs[0].Screenshot(ctx)
}

func encodeImage(w io.Writer, img image.Image, format string) error {
	switch strings.ToLower(format) {
	case "png":
		return png.Encode(w, img)
	case "ppm":
		return netpbm.Encode(w, img, &netpbm.EncodeOptions{Format: netpbm.PPM, MaxValue: 255})
	}
	return fmt.Errorf("unsupported screenshot format %q", format)
}

func init() {
	screenshotCmd.Flags().StringVarP(&screenshotFormat, "format", "f", "", "output format (png, ppm)")
	screenshotCmd.Flags().IntVar(&screenshotDevice, "device", 0, "graphics device index (see 'graphics list')")
	rootCmd.AddCommand(screenshotCmd)
}
