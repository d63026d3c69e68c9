package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/backend/qemu"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/styles"
	"github.com/jeeftor/vmcap/internal/utils"
)

var graphicsCmd = &cobra.Command{
	Use:   "graphics",
	Short: "Inspect the VM's graphics devices",
}

var graphicsListCmd = &cobra.Command{
	Use:   "list [vmid]",
	Short: "List graphics devices and their framebuffers",
	Args:  cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := resolveVMID(args, 0)
		machine := connectMachine(vmid, qemu.Options{})

		ctx, cancel := operationContext("connection")
		defer cancel()
		devices, err := machine.GraphicsDevices(ctx)
		utils.CheckError(err, "listing graphics devices")

		if len(devices) == 0 {
			logging.UserWarnf("VM %s has no graphics devices", vmid)
			return
		}
		for i, d := range devices {
			name := d.Type().String()
			if s, ok := d.(fmt.Stringer); ok {
				name = s.String()
			}
			fmt.Printf("%s %s  type=%d framebuffers=%d\n",
				styles.KeyStyle.Render(fmt.Sprintf("[%d]", i)), name, int(d.Type()), len(d.Framebuffers()))
		}
	},
}

func init() {
	graphicsCmd.AddCommand(graphicsListCmd)
	rootCmd.AddCommand(graphicsCmd)
}
