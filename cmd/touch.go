package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/backend/qemu"
	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/utils"
)

var (
	touchUSB   bool
	touchApple bool
)

var touchCmd = &cobra.Command{
	Use:   "touch",
	Short: "Manage multi-touch devices",
}

var touchAddCmd = &cobra.Command{
	Use:   "add [vmid]",
	Short: "Attach a touch screen to the VM",
	Long: `Attach a multi-touch device to a running VM.

--usb adds a generic USB HID touch screen. --apple requests Apple's touch
screen protocol, which QEMU cannot provide.`,
	Args: cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := resolveVMID(args, 0)
		kind := string(capability.USBTouchScreen)
		if touchApple {
			kind = string(capability.AppleTouchScreen)
		}
		device, err := capability.ParseMultiTouchKind(kind)
		utils.CheckError(err, "touch add")

		machine := connectMachine(vmid, qemu.Options{})
		devices := append(machine.MultiTouchDevices(), device)
		utils.CheckError(machine.SetMultiTouchDevices(devices), "configuring touch device")

		ctx, cancel := operationContext("connection")
		defer cancel()
		utils.CheckError(machine.AttachMultiTouchDevices(ctx), "attaching touch device")
		logging.Successf("Attached %s to VM %s", device.Kind(), vmid)
	},
}

func init() {
	touchAddCmd.Flags().BoolVar(&touchUSB, "usb", false, "add a USB touch screen (default)")
	touchAddCmd.Flags().BoolVar(&touchApple, "apple", false, "add an Apple touch screen")
	touchAddCmd.MarkFlagsMutuallyExclusive("usb", "apple")
	touchCmd.AddCommand(touchAddCmd)
	rootCmd.AddCommand(touchCmd)
}
