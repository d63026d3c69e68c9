package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/constants"
	"github.com/jeeftor/vmcap/internal/instance"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/rpc"
	"github.com/jeeftor/vmcap/internal/styles"
	"github.com/jeeftor/vmcap/internal/tui"
	"github.com/jeeftor/vmcap/internal/utils"
)

var watchInterval = constants.WatchPollInterval

var containersCmd = &cobra.Command{
	Use:     "containers",
	Aliases: []string{"container", "ps"},
	Short:   "Inspect and stop running instances",
}

var containersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances known to the daemon",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := operationContext("request")
		defer cancel()
		infos, err := daemonSource{}.Instances(ctx)
		utils.CheckError(err, "listing instances")
		if len(infos) == 0 {
			logging.UserInfof("No instances")
			return
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tIMAGE\tTYPE\tSTATE\tIP")
		for _, i := range infos {
			ip := i.IP
			if ip == "" {
				ip = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", i.ID, i.Name, i.Type, styles.StateStyle(i.State).Render(i.State), ip)
		}
		tw.Flush()
	},
}

var containersKillCmd = &cobra.Command{
	Use:   "kill <id|all>",
	Short: "Stop and dispose an instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := operationContext("request")
		defer cancel()
		utils.CheckError(daemonSource{}.Kill(ctx, args[0]), "killing "+args[0])
		logging.Successf("Killed %s", args[0])
	},
}

var containersWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive view of instances",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		model := tui.NewWatchModel(contextManager.GetContext(), daemonSource{}, watchInterval)
		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(contextManager.GetContext()))
		if _, err := p.Run(); err != nil && contextManager.IsActive() {
			utils.FatalError(err, "containers watch")
		}
	},
}

// daemonSource feeds the watch view from the daemon.
type daemonSource struct{}

func (daemonSource) Instances(ctx context.Context) ([]instance.Info, error) {
	var infos []instance.Info
	err := daemonCall(ctx, map[string]any{"request": "container-status"}, func(msg rpc.Message) bool {
		if err := msg.Decode("instances", &infos); err != nil {
			logging.Debug("Malformed container-status reply", "error", err)
		}
		return false
	})
	return infos, err
}

func (daemonSource) Kill(ctx context.Context, id string) error {
	return daemonCall(ctx, map[string]any{"request": "container-kill", "id": id}, func(rpc.Message) bool {
		return false
	})
}

func init() {
	containersWatchCmd.Flags().DurationVar(&watchInterval, "interval", constants.WatchPollInterval, "polling interval")
	containersCmd.AddCommand(containersListCmd, containersKillCmd, containersWatchCmd)
	rootCmd.AddCommand(containersCmd)
}
