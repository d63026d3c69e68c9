package cmd

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/nvram"
	"github.com/jeeftor/vmcap/internal/styles"
	"github.com/jeeftor/vmcap/internal/utils"
)

var (
	nvramPartition string
	nvramType      string
)

var nvramCmd = &cobra.Command{
	Use:   "nvram",
	Short: "Read and write firmware variables",
	Long: fmt.Sprintf(`Operate on the NVRAM database (nvram.database). Variables are kept per
VM ID. Names prefixed with the system GUID (%s:) live in the
system partition, everything else in the common partition.`, nvram.SystemGUID),
}

var nvramListCmd = &cobra.Command{
	Use:   "list [vmid]",
	Short: "List variables",
	Args:  cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		vmid := resolveVMID(args, 0)
		store := openNVRAM().ForMachine(vmid)

		ctx, cancel := operationContext("nvram")
		defer cancel()

		var vars map[string]capability.NVRAMValue
		var err error
		if nvramPartition != "" {
			p, perr := capability.ParseNVRAMPartition(nvramPartition)
			utils.CheckError(perr, "nvram list")
			vars, err = store.AllVariablesInPartition(ctx, p)
		} else {
			vars, err = store.AllVariables(ctx)
		}
		utils.CheckError(err, "listing NVRAM variables")

		if len(vars) == 0 {
			logging.UserInfof("No variables for %s", vmid)
			return
		}
		names := lo.Keys(vars)
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s = %s\n", styles.KeyStyle.Render(name), formatNVRAMValue(vars[name]))
		}
	},
}

var nvramGetCmd = &cobra.Command{
	Use:   "get <vmid> <name>",
	Short: "Print one variable",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		store := openNVRAM().ForMachine(args[0])
		ctx, cancel := operationContext("nvram")
		defer cancel()

		v, err := store.Value(ctx, args[1])
		if errors.Is(err, capability.ErrNoValue) {
			utils.FatalError(err, fmt.Sprintf("variable %q", args[1]))
		}
		utils.CheckError(err, "reading NVRAM variable")
		logging.Result("%s", formatNVRAMValue(v))
	},
}

var nvramSetCmd = &cobra.Command{
	Use:   "set <vmid> <name> <value>",
	Short: "Set a variable",
	Long: `Set a variable. --type selects how the value is parsed: string (default),
bool, int, float, hex or base64. The last two store raw bytes.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		value, err := parseNVRAMValue(args[2], nvramType)
		utils.CheckError(err, "nvram set")

		store := openNVRAM().ForMachine(args[0])
		ctx, cancel := operationContext("nvram")
		defer cancel()
		utils.CheckError(store.SetValue(ctx, args[1], value), "writing NVRAM variable")
		logging.Successf("Set %s", args[1])
	},
}

var nvramRemoveCmd = &cobra.Command{
	Use:     "rm <vmid> <name>...",
	Aliases: []string{"remove"},
	Short:   "Remove variables",
	Args:    cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		store := openNVRAM().ForMachine(args[0])
		ctx, cancel := operationContext("nvram")
		defer cancel()

		errs := utils.NewMultiError("removing NVRAM variables")
		for _, name := range args[1:] {
			if err := store.Remove(ctx, name); err != nil {
				errs.Add(fmt.Errorf("%s: %w", name, err))
				continue
			}
			logging.Successf("Removed %s", name)
		}
		utils.CheckError(errs.Err(), errs.Context)
	},
}

var nvramMachinesCmd = &cobra.Command{
	Use:   "machines",
	Short: "List the VM IDs that have variables",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := operationContext("nvram")
		defer cancel()
		ids, err := openNVRAM().Machines(ctx)
		utils.CheckError(err, "listing machines")
		for _, id := range ids {
			logging.Result("%s", id)
		}
	},
}

func parseNVRAMValue(s, typ string) (capability.NVRAMValue, error) {
	switch strings.ToLower(typ) {
	case "", "string":
		return s, nil
	case "bool":
		return strconv.ParseBool(s)
	case "int":
		return strconv.ParseInt(s, 0, 64)
	case "float":
		return strconv.ParseFloat(s, 64)
	case "hex":
		return hex.DecodeString(strings.TrimPrefix(s, "0x"))
	case "base64":
		return base64.StdEncoding.DecodeString(s)
	}
	return nil, fmt.Errorf("unknown value type %q", typ)
}

func formatNVRAMValue(v capability.NVRAMValue) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case []byte:
		return "0x" + hex.EncodeToString(x)
	default:
		return fmt.Sprint(x)
	}
}

func init() {
	nvramListCmd.Flags().StringVarP(&nvramPartition, "partition", "p", "", "only list one partition (common, system)")
	nvramSetCmd.Flags().StringVarP(&nvramType, "type", "t", "string", "value type (string, bool, int, float, hex, base64)")
	nvramCmd.AddCommand(nvramListCmd, nvramGetCmd, nvramSetCmd, nvramRemoveCmd, nvramMachinesCmd)
	rootCmd.AddCommand(nvramCmd)
}
