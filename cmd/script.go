package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/automation"
	"github.com/jeeftor/vmcap/internal/backend/qemu"
	"github.com/jeeftor/vmcap/internal/input"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/ocr"
	"github.com/jeeftor/vmcap/internal/script"
	"github.com/jeeftor/vmcap/internal/utils"
)

var (
	scriptDryRun  bool
	scriptVerbose bool
	scriptTimeout time.Duration
)

var scriptCmd = &cobra.Command{
	Use:   "script <vmid> <file>",
	Short: "Drive a VM through a step file",
	Long: `Run a step file against a VM. Text on screen is found with OCR, so the
training data must cover the guest's console font.

Directives, one per line (# starts a comment):

  wait <text>          wait until <text> is on screen
  click <text>         wait for <text> and click it
  click <x> <y>        click a point
  type <text>          type the rest of the line
  key <chord>          press a chord such as "return" or "cmd+q"
  sleep <duration>     pause, e.g. "2s"
  login <user> <pass>  log into a text console
  shutdown             shut a macOS guest down

Example:
  vmcap script 106 install.steps`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := resolveVMID(args, 0)

		f, err := os.Open(args[1])
		utils.CheckError(err, "opening step file")
		steps, err := script.Parse(f)
		f.Close()
		utils.CheckError(err, "parsing "+args[1])

		if scriptDryRun {
			for i, st := range steps {
				fmt.Printf("%3d  %s\n", i+1, st.Description)
			}
			return
		}

		cfg := ocr.Config{Columns: appConfig.OCR.Columns, Rows: appConfig.OCR.Rows, TrainingDataPath: trainingDataPath()}
		td, err := cfg.LoadTrainingData()
		utils.CheckError(err, "loading OCR training data")

		machine := connectMachine(vmid, qemu.Options{})
		ctx, cancel := context.WithTimeout(contextManager.GetContext(), scriptTimeout)
		defer cancel()

		in, err := input.NewInjector(ctx, machine, inputTiming())
		utils.CheckError(err, "opening input devices")

		runner := &automation.Runner{
			Screen: &automation.ScreenRecognizer{
				Screens:      machine,
				Recognizer:   automation.OCRRecognizer{Config: cfg, Training: td},
				PollInterval: appConfig.Automation.PollInterval,
			},
			Input:   in,
			Verbose: scriptVerbose,
		}
		timer := logging.StartTimer("script", vmid)
		err = runner.Run(ctx, steps)
		timer.StopWithError(err)
		utils.CheckError(err, "running "+args[1])
		logging.Successf("Ran %d steps on VM %s", len(steps), vmid)
	},
}

func init() {
	scriptCmd.Flags().BoolVar(&scriptDryRun, "dry-run", false, "parse the file and list its steps without running them")
	scriptCmd.Flags().BoolVarP(&scriptVerbose, "verbose", "v", false, "log each step as it starts")
	scriptCmd.Flags().DurationVar(&scriptTimeout, "timeout", 30*time.Minute, "abort the run after this long")
	rootCmd.AddCommand(scriptCmd)
}
