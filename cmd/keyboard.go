package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/backend/qemu"
	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/input"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/utils"
)

var keyboardCmd = &cobra.Command{
	Use:   "keyboard",
	Short: "Send keyboard input to the VM",
	Long:  `Send key presses, chords and text to the VM using macOS virtual key codes.`,
}

var sendKeyCmd = &cobra.Command{
	Use:   "send <vmid> <key>...",
	Short: "Press keys or chords",
	Long: `Press each key in turn. A key is a name such as "return", "esc" or "f5",
or a chord of modifiers and keys joined by "+".

Examples:
  vmcap keyboard send 106 return
  vmcap keyboard send 106 cmd+space
  vmcap keyboard send 106 down down return`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := args[0]
		in := newInjector(vmid)

		ctx, cancel := operationContext("keyboard")
		defer cancel()
		for _, chord := range args[1:] {
			codes, holding, err := input.ParseChord(chord)
			utils.CheckError(err, "parsing key")
			utils.CheckError(in.PressKeys(ctx, codes, holding...), "sending "+chord)
		}
		logging.Successf("Sent %s to VM %s", strings.Join(args[1:], " "), vmid)
	},
}

var typeTextCmd = &cobra.Command{
	Use:   "type <vmid> <text>...",
	Short: "Type a string of text",
	Long: `Type text on a US keyboard layout. Arguments are joined with spaces.

Example:
  vmcap keyboard type 106 "Hello World"`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := args[0]
		text := strings.Join(args[1:], " ")
		in := newInjector(vmid)

		ctx, cancel := operationContext("keyboard")
		defer cancel()
		utils.CheckError(in.TypeText(ctx, text), "typing text")
		logging.Successf("Typed %d characters to VM %s", len([]rune(text)), vmid)
	},
}

var keyNamesCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the key names understood by send",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range capability.KeyNames() {
			logging.Result("%s", name)
		}
	},
}

// newInjector attaches to vmid and wraps its first keyboard and pointer.
func newInjector(vmid string) *input.Injector {
	machine := connectMachine(vmid, qemu.Options{})
	ctx, cancel := operationContext("connection")
	defer cancel()
	in, err := input.NewInjector(ctx, machine, inputTiming())
	utils.CheckError(err, "opening input devices")
	return in
}

func applyKeyTimingFlags(cmd *cobra.Command, args []string) {
	if d, _ := cmd.Flags().GetDuration("key-hold"); d > 0 {
		appConfig.Input.KeyHold = d
	}
	if d, _ := cmd.Flags().GetDuration("key-gap"); d > 0 {
		appConfig.Input.KeyGap = d
	}
}

func init() {
	for _, c := range []*cobra.Command{sendKeyCmd, typeTextCmd} {
		c.Flags().Duration("key-hold", 0, "time each key is held (default from input.key_hold)")
		c.Flags().Duration("key-gap", 0, "pause between keys (default from input.key_gap)")
		c.PreRun = applyKeyTimingFlags
	}

	keyboardCmd.AddCommand(sendKeyCmd, typeTextCmd, liveCmd, keyNamesCmd)
	rootCmd.AddCommand(keyboardCmd)
}
