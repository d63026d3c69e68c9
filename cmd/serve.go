package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/daemon"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the image and instance daemon",
	Long: `Serve the daemon on daemon.socket (a unix socket path, or host:port for
TCP). It owns the image store under daemon.base_path, the NVRAM database
and the instance queue. Instances run one at a time; SIGINT or SIGTERM
stops the running instance and exits.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		d, err := daemon.New(appConfig)
		utils.CheckError(err, "starting daemon")
		defer d.Close()

		logging.Info("Daemon starting",
			"socket", appConfig.Daemon.Socket,
			"base_path", appConfig.Daemon.BasePath,
			"qemu", appConfig.QEMU.Binary)
		utils.CheckError(d.Run(contextManager.GetContext()), "daemon")
		logging.Info("Daemon stopped")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
