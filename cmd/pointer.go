package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/utils"
)

var pointerCmd = &cobra.Command{
	Use:   "pointer",
	Short: "Move and click the VM's pointer",
	Long: `Drive the absolute pointing device. Coordinates are framebuffer pixels
with the origin at the top-left corner.`,
}

var pointerClickCmd = &cobra.Command{
	Use:   "click <vmid> <x> <y>",
	Short: "Click the primary button at a point",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := args[0]
		p := parsePoint(args[1], args[2])
		in := newInjector(vmid)

		ctx, cancel := operationContext("pointer")
		defer cancel()
		utils.CheckError(in.Click(ctx, p), "clicking")
		logging.Successf("Clicked at (%g, %g) on VM %s", p.X, p.Y, vmid)
	},
}

var pointerMoveCmd = &cobra.Command{
	Use:   "move <vmid> <x> <y>",
	Short: "Move the pointer without clicking",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := args[0]
		p := parsePoint(args[1], args[2])
		in := newInjector(vmid)

		ctx, cancel := operationContext("pointer")
		defer cancel()
		utils.CheckError(in.MoveTo(ctx, p), "moving pointer")
		logging.Successf("Moved pointer to (%g, %g) on VM %s", p.X, p.Y, vmid)
	},
}

func parsePoint(xs, ys string) capability.Point {
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil || x < 0 {
		utils.FatalError(utils.Usagef("invalid x coordinate %q", xs), "pointer")
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil || y < 0 {
		utils.FatalError(utils.Usagef("invalid y coordinate %q", ys), "pointer")
	}
	logging.Debug("Pointer target", "point", fmt.Sprintf("%g,%g", x, y))
	return capability.Point{X: x, Y: y}
}

func init() {
	pointerCmd.AddCommand(pointerClickCmd, pointerMoveCmd)
	rootCmd.AddCommand(pointerCmd)
}
