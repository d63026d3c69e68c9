package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/backend/qemu"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/styles"
	"github.com/jeeftor/vmcap/internal/utils"
)

var statusCmd = &cobra.Command{
	Use:   "status [vmid]",
	Short: "Query VM status",
	Long: `Query the run state of a QEMU virtual machine over QMP.

The VM ID can be provided as an argument or set via the VMCAP_VM_ID
environment variable.

Examples:
  vmcap status 106

  export VMCAP_VM_ID=106
  vmcap status`,
	Args: cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := resolveVMID(args, 0)
		logger := logging.NewContextualLogger(vmid, "status")
		timer := logging.StartTimer("status_query", vmid)

		machine := connectMachine(vmid, qemu.Options{})
		ctx, cancel := operationContext("connection")
		defer cancel()

		status, err := machine.Client().QueryStatus(ctx)
		timer.StopWithError(err)
		utils.CheckError(err, "querying VM status")

		state, err := machine.State(ctx)
		utils.CheckError(err, "querying VM state")
		logger.Info("VM status retrieved", "running", status.Running, "status", status.Status)

		logging.Result("Status for VM %s", vmid)
		fmt.Printf("  Running: %v\n", status.Running)
		fmt.Printf("  Status:  %s\n", status.Status)
		fmt.Printf("  State:   %s\n", styles.StateStyle(state.String()).Render(state.String()))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
