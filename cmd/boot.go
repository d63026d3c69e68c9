package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/backend/qemu"
	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/filesystem"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/nvram"
	"github.com/jeeftor/vmcap/internal/utils"
)

var bootOpts capability.StartOptions

var bootCmd = &cobra.Command{
	Use:   "boot [vmid]",
	Short: "Start a paused VM, optionally in a special boot mode",
	Long: `Resume a VM that QEMU started paused (-S) using one boot mode.

  --recovery      set the one-shot recovery flag in NVRAM, reset and run
  --stop-stage1   reset and stay halted at the reset vector
  --stop-stage2   reset, run, and halt once the firmware resumes
  --dfu           force DFU mode (not available on QEMU)

The modes are mutually exclusive. Without a flag the VM simply continues.
Recovery boots write to the NVRAM database under the VM ID.`,
	Args: cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := resolveVMID(args, 0)
		utils.CheckError(bootOpts.Validate(), "boot")

		var opts qemu.Options
		if bootOpts.BootMacOSRecovery {
			store := openNVRAM()
			opts.NVRAM = store.ForMachine(vmid)
		}
		machine := connectMachine(vmid, opts)

		ctx, cancel := operationContext("boot")
		defer cancel()
		err := logging.LogOperation("boot", vmid, func() error {
			return machine.StartWithOptions(ctx, &bootOpts)
		})
		utils.CheckError(err, "booting VM "+vmid)
		logging.Successf("VM %s started (%s)", vmid, bootOpts.String())
	},
}

// openNVRAM opens the configured database for the rest of the command.
func openNVRAM() *nvram.Store {
	path := appConfig.NVRAM.Database
	utils.CheckError(filesystem.EnsureDirectoryForFile(path), "creating NVRAM directory")
	store, err := nvram.Open(path)
	utils.CheckError(err, "opening NVRAM database")
	contextManager.OnShutdown("nvram", func(context.Context) error {
		return store.Close()
	})
	return store
}

func init() {
	f := bootCmd.Flags()
	f.BoolVar(&bootOpts.BootMacOSRecovery, "recovery", false, "boot the recovery system")
	f.BoolVar(&bootOpts.StopInIBootStage1, "stop-stage1", false, "halt in the first boot stage")
	f.BoolVar(&bootOpts.StopInIBootStage2, "stop-stage2", false, "halt in the second boot stage")
	f.BoolVar(&bootOpts.ForceDFU, "dfu", false, "force DFU mode")
	bootCmd.MarkFlagsMutuallyExclusive("recovery", "stop-stage1", "stop-stage2", "dfu")
	rootCmd.AddCommand(bootCmd)
}
