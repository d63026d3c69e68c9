package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/filesystem"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/rpc"
	"github.com/jeeftor/vmcap/internal/styles"
	"github.com/jeeftor/vmcap/internal/utils"
)

var (
	runClone    bool
	runDetach   bool
	runKeyFile  string
	runRecovery bool
)

var runCmd = &cobra.Command{
	Use:   "run <image>",
	Short: "Run an image through the daemon",
	Long: `Queue an instance of an image and print its SSH credentials once it is up.

With --clone the instance runs on a throwaway copy that is discarded when it
stops. Without --daemon the instance lives as long as this command: Ctrl+C
stops it. With --daemon the command returns once credentials are known and
the instance keeps running; stop it with "containers kill".`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{
			"request": "run-base-image",
			"name":    args[0],
			"daemon":  runDetach,
		}
		if runClone {
			req["request"] = "run-working-image"
		}
		if runRecovery {
			req["options"] = capability.StartOptions{BootMacOSRecovery: true}
		}

		ctx := contextManager.GetContext()
		err := daemonCall(ctx, req, func(msg rpc.Message) bool {
			return handleRunMessage(msg)
		})
		if errors.Is(err, context.Canceled) {
			logging.UserInfof("Disconnected; the daemon stops the instance")
			return
		}
		utils.CheckError(err, "run "+args[0])
	},
}

// handleRunMessage prints one reply of a run stream.
func handleRunMessage(msg rpc.Message) bool {
	if status, ok := msg.String("status"); ok {
		switch status {
		case "queued":
			id, _ := msg.String("id")
			logging.UserInfof("Queued instance %s", styles.KeyStyle.Render(id))
		case "stopped":
			logging.UserInfof("Instance stopped")
			return false
		}
		return true
	}

	var creds struct {
		ID         string `json:"id"`
		IPAddress  string `json:"ipAddress"`
		PrivateKey string `json:"privateKey"`
		Login      string `json:"login"`
		Password   string `json:"password"`
	}
	if err := msg.Decode("ssh", &creds); err != nil {
		logging.Debug("Ignoring reply", "reply", fmt.Sprint(msg))
		return true
	}

	logging.Successf("Instance %s is running at %s", creds.ID, creds.IPAddress)
	fmt.Printf("  Login:    %s\n", creds.Login)
	fmt.Printf("  Password: %s\n", creds.Password)
	if runKeyFile != "" {
		utils.CheckError(filesystem.WriteFileAtomic(runKeyFile, []byte(creds.PrivateKey), 0o600), "writing private key")
		fmt.Printf("  SSH:      ssh -i %s %s@%s\n", runKeyFile, creds.Login, creds.IPAddress)
	} else {
		fmt.Printf("  SSH:      ssh %s@%s\n", creds.Login, creds.IPAddress)
	}
	if !runDetach {
		fmt.Fprintln(os.Stderr, styles.MutedStyle.Render("Press Ctrl+C to stop the instance"))
	}
	return true
}

func init() {
	runCmd.Flags().BoolVar(&runClone, "clone", false, "run a throwaway copy of the image")
	runCmd.Flags().BoolVar(&runDetach, "daemon", false, "leave the instance running after credentials are printed")
	runCmd.Flags().StringVar(&runKeyFile, "key-file", "", "write the instance's SSH private key to this file")
	runCmd.Flags().BoolVar(&runRecovery, "recovery", false, "boot the recovery system")
	rootCmd.AddCommand(runCmd)
}
