package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeeftor/vmcap/internal/backend/qemu"
	"github.com/jeeftor/vmcap/internal/config"
	"github.com/jeeftor/vmcap/internal/constants"
	"github.com/jeeftor/vmcap/internal/input"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/params"
	"github.com/jeeftor/vmcap/internal/qmp"
	"github.com/jeeftor/vmcap/internal/resource"
	"github.com/jeeftor/vmcap/internal/rpc"
	"github.com/jeeftor/vmcap/internal/utils"
)

var (
	cfgFile    string
	logLevel   string
	socketPath string

	// Resolved in PersistentPreRun.
	appConfig      *config.Config
	contextManager *resource.ContextManager
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmcap",
	Short: "vmcap drives QEMU guests and runs machine images",
	Long: `vmcap controls virtual machines through QEMU's QMP socket: screenshots,
keyboard and pointer input, boot modes, NVRAM variables and console OCR.

"vmcap serve" runs a daemon that keeps a store of machine images and runs
them one at a time; the images, containers, run and fetch commands talk to it.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(int(utils.ExitCodeGeneral))
		}
		appConfig = cfg

		if logLevel == "" {
			logLevel = cfg.LogLevel
		}
		logging.InitWithLevel(logLevel)
		logging.Debug("Logging initialized", "level", logLevel)

		result := cfg.Validate()
		for _, w := range result.Warnings {
			logging.Debug("Configuration warning", "message", w)
		}
		if err := result.Err(); err != nil {
			utils.FatalError(err, "invalid configuration")
		}

		qmp.DefaultSocketDir = cfg.QMP.SocketDir
		logging.Debug("Using socket path", "path", GetSocketPath(), "socket_dir", cfg.QMP.SocketDir)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer func() {
		if contextManager != nil {
			contextManager.Shutdown()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initResourceManagement)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vmcap.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "", "QMP socket path (for SSH tunneling)")
	rootCmd.PersistentFlags().String("daemon-socket", "", "daemon socket path or host:port")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("socket", rootCmd.PersistentFlags().Lookup("socket"))
	viper.BindPFlag("daemon.socket", rootCmd.PersistentFlags().Lookup("daemon-socket"))
}

func initResourceManagement() {
	if contextManager == nil {
		contextManager = resource.NewContextManager()
		logging.Debug("Resource management initialized")
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// VMCAP_LOG_LEVEL, VMCAP_QEMU_BINARY, ...
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath("/etc/vmcap")
		viper.SetConfigType("yaml")
		viper.SetConfigName(config.FileName)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}
}

// GetSocketPath returns the QMP socket override from flag, env or config.
func GetSocketPath() string {
	if socketPath != "" {
		return socketPath
	}
	return viper.GetString("socket")
}

// resolveVMID resolves the VM id from args[i], VMCAP_VM_ID or vm_id.
func resolveVMID(args []string, i int) string {
	info, err := params.NewParameterResolver(nil).ResolveVMIDWithInfo(args, i)
	if err != nil {
		utils.FatalError(err, "resolving VM ID")
	}
	if info.Source != "argument" {
		logging.Debug("Parameter resolved from non-argument source", "vmid", info.Value, "source", info.Source)
	}
	return info.Value
}

// connectMachine attaches to a running QEMU guest. The connection is closed
// on shutdown.
func connectMachine(vmid string, opts qemu.Options) *qemu.Machine {
	ctx, cancel := contextManager.WithTimeout(constants.ConnectionTimeout)
	defer cancel()

	var machine *qemu.Machine
	err := logging.LogOperation("qmp_connect", vmid, func() error {
		m, err := qemu.Attach(ctx, vmid, GetSocketPath(), opts)
		logging.LogConnection(vmid, GetSocketPath(), err == nil, err)
		machine = m
		return err
	})
	utils.CheckError(err, "connecting to VM "+vmid)

	contextManager.OnShutdown("qmp "+vmid, func(context.Context) error {
		return machine.Close()
	})
	return machine
}

func inputTiming() input.Timing {
	return input.Timing{
		KeyHold:       appConfig.Input.KeyHold,
		KeyGap:        appConfig.Input.KeyGap,
		PointerSettle: appConfig.Input.PointerSettle,
	}
}

// operationContext bounds a single command.
func operationContext(operation string) (context.Context, context.CancelFunc) {
	return contextManager.WithTimeout(constants.GetTimeout(operation))
}

// daemonCall sends req to the daemon and feeds each reply to fn until fn
// returns false or the daemon closes the stream. A reply carrying "error"
// ends the call with that error.
func daemonCall(ctx context.Context, req map[string]any, fn func(rpc.Message) bool) error {
	var replyErr error
	err := rpc.Call(ctx, appConfig.Daemon.Socket, req, func(msg rpc.Message) bool {
		if e, ok := msg.String("error"); ok {
			replyErr = errors.New(e)
			return false
		}
		return fn(msg)
	})
	if err != nil {
		return fmt.Errorf("daemon at %s: %w", appConfig.Daemon.Socket, err)
	}
	return replyErr
}

// daemonRequest expects a single reply.
func daemonRequest(req map[string]any) rpc.Message {
	ctx, cancel := contextManager.WithTimeout(constants.RequestTimeout)
	defer cancel()

	var reply rpc.Message
	err := daemonCall(ctx, req, func(msg rpc.Message) bool {
		reply = msg
		return false
	})
	utils.CheckError(err, fmt.Sprintf("%v request", req["request"]))
	if reply == nil {
		utils.FatalError(errors.New("daemon closed the connection without replying"), fmt.Sprintf("%v request", req["request"]))
	}
	return reply
}

func ensureParentDir(path string) {
	if dir := filepath.Dir(path); dir != "." {
		utils.CheckError(os.MkdirAll(dir, 0o755), "creating output directory")
	}
}
