package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/rpc"
	"github.com/jeeftor/vmcap/internal/styles"
	"github.com/jeeftor/vmcap/internal/utils"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <restore-image>",
	Short: "Download a restore image into the daemon's store",
	Long: `Ask the daemon to download a restore image from its catalog. Progress is
reported as the download runs; interrupting the command cancels it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		last := -1

		err := daemonCall(contextManager.GetContext(), map[string]any{"request": "fetch", "name": name}, func(msg rpc.Message) bool {
			status, _ := msg.String("status")
			switch status {
			case "already":
				path, _ := msg.String("path")
				logging.Successf("%s is already fetched: %s", name, path)
			case "downloading":
				logging.UserInfof("Downloading %s", name)
			case "progress":
				if p, ok := msg.Number("progress"); ok && int(p) != last {
					last = int(p)
					fmt.Fprintf(os.Stderr, "\r  %s", styles.InfoStyle.Render(fmt.Sprintf("%3d%%", last)))
				}
			case "done":
				path, _ := msg.String("path")
				fmt.Fprintln(os.Stderr)
				logging.Successf("Fetched %s to %s", name, path)
			}
			return true
		})
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr)
			logging.UserWarnf("Fetch of %s cancelled", name)
			return
		}
		utils.CheckError(err, "fetch "+name)
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
