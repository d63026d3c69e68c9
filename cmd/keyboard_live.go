package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jeeftor/vmcap/internal/backend/qemu"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/utils"
)

// Ctrl+\ leaves live mode.
const liveExitByte = 0x1c

var liveCmd = &cobra.Command{
	Use:   "live [vmid]",
	Short: "Forward the local keyboard to the VM",
	Long: `Put the terminal in raw mode and forward every key to the VM as it is
typed. Arrow, function and navigation keys are decoded from their terminal
escape sequences. Press Ctrl+\ to exit.`,
	Args: cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := resolveVMID(args, 0)
		client := connectMachine(vmid, qemu.Options{}).Client()

		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			utils.FatalError(utils.Usagef("stdin is not a terminal"), "keyboard live")
		}
		fmt.Printf("Connected to VM %s. Press Ctrl+\\ to exit.\n", vmid)

		oldState, err := term.MakeRaw(fd)
		utils.CheckError(err, "entering raw mode")
		defer term.Restore(fd, oldState)

		ctx := contextManager.GetContext()
		buf := make([]byte, 64)
		var pending []byte
		for ctx.Err() == nil {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				fmt.Printf("\r\nError reading input: %v\r\n", err)
				return
			}
			pending = append(pending, buf[:n]...)
			for len(pending) > 0 {
				if pending[0] == liveExitByte {
					fmt.Print("\r\nExiting live keyboard mode\r\n")
					return
				}
				key, used := decodeTerminalKey(pending)
				if used == 0 {
					break
				}
				pending = pending[used:]
				if key == "" {
					continue
				}
				if err := client.SendKey(ctx, key); err != nil {
					logging.Debug("Failed to forward key", "key", key, "error", err)
				}
			}
			// A lone ESC with nothing following is the escape key itself.
			if bytes.Equal(pending, []byte{0x1b}) {
				pending = pending[:0]
				client.SendKey(ctx, "esc")
			}
		}
	},
}

var escapeSequences = map[string]string{
	"\x1b[A": "up", "\x1b[B": "down", "\x1b[C": "right", "\x1b[D": "left",
	"\x1b[H": "home", "\x1b[F": "end",
	"\x1bOA": "up", "\x1bOB": "down", "\x1bOC": "right", "\x1bOD": "left",
	"\x1bOH": "home", "\x1bOF": "end",
	"\x1bOP": "f1", "\x1bOQ": "f2", "\x1bOR": "f3", "\x1bOS": "f4",
	"\x1b[1~": "home", "\x1b[2~": "insert", "\x1b[3~": "delete", "\x1b[4~": "end",
	"\x1b[5~": "pgup", "\x1b[6~": "pgdn",
	"\x1b[11~": "f1", "\x1b[12~": "f2", "\x1b[13~": "f3", "\x1b[14~": "f4",
	"\x1b[15~": "f5", "\x1b[17~": "f6", "\x1b[18~": "f7", "\x1b[19~": "f8",
	"\x1b[20~": "f9", "\x1b[21~": "f10", "\x1b[23~": "f11", "\x1b[24~": "f12",
}

// decodeTerminalKey decodes the first key in b. It returns the QMP key name
// and how many bytes it used; used is 0 when b holds an incomplete escape
// sequence. Unknown sequences are consumed with an empty name.
func decodeTerminalKey(b []byte) (key string, used int) {
	c := b[0]
	if c != 0x1b {
		return controlKey(c), 1
	}
	if len(b) == 1 {
		return "", 0
	}
	if b[1] != '[' && b[1] != 'O' {
		// ESC followed by a normal key, as in vi.
		return "esc", 1
	}
	for i := 2; i < len(b); i++ {
		if f := b[i]; f == '~' || (f >= 'A' && f <= 'Z') || (f >= 'a' && f <= 'z') {
			return escapeSequences[string(b[:i+1])], i + 1
		}
	}
	if len(b) > 8 {
		return "esc", 1
	}
	return "", 0
}

func controlKey(c byte) string {
	switch {
	case c == '\r' || c == '\n':
		return "ret"
	case c == '\t':
		return "tab"
	case c == 0x7f || c == 0x08:
		return "backspace"
	case c == ' ':
		return "spc"
	case c >= 1 && c <= 26:
		return "ctrl-" + string(rune('a'+c-1))
	case c >= 0x20 && c < 0x7f:
		return string(rune(c))
	}
	return ""
}
