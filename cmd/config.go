package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeeftor/vmcap/internal/config"
	"github.com/jeeftor/vmcap/internal/filesystem"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/styles"
	"github.com/jeeftor/vmcap/internal/utils"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration files",
	Long: `Settings are read from, in increasing priority:

  1. built-in defaults
  2. .vmcap.yaml in /etc/vmcap, $HOME or the working directory (or --config)
  3. VMCAP_* environment variables (daemon.socket becomes VMCAP_DAEMON_SOCKET)
  4. command-line flags`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a sample configuration file",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "~/" + config.FileName + ".yaml"
		if len(args) > 0 {
			path = args[0]
		}
		path, err := filesystem.ExpandPath(path)
		utils.CheckError(err, "resolving path")
		if filesystem.Exists(path) {
			utils.FatalError(utils.Usagef("%s already exists", path), "config init")
		}
		utils.CheckError(filesystem.EnsureDirectoryForFile(path), "creating directory")
		utils.CheckError(filesystem.WriteFileAtomic(path, []byte(sampleConfig), 0o644), "writing configuration")
		logging.Successf("Created %s", path)
		logging.UserInfof("Check it with 'vmcap config validate %s'", path)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a configuration file or the active configuration",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		v := viper.GetViper()
		name := viper.ConfigFileUsed()
		if len(args) > 0 {
			v = viper.New()
			config.SetDefaults(v)
			v.SetConfigFile(args[0])
			utils.CheckError(v.ReadInConfig(), "reading "+args[0])
			name = args[0]
		}
		if name == "" {
			name = "defaults and environment"
		}

		cfg, err := config.Load(v)
		utils.CheckError(err, "loading configuration")
		result := cfg.Validate()
		for _, w := range result.Warnings {
			logging.UserWarnf("%s", w)
		}
		if !result.Valid {
			for _, e := range result.Errors {
				fmt.Printf("  %s %s\n", styles.ErrorStyle.Render(e.Field), e.Message)
			}
			utils.FatalError(result.Err(), "config validate")
		}
		logging.Successf("Configuration is valid: %s", name)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective settings and where each came from",
	Run: func(cmd *cobra.Command, args []string) {
		file := viper.ConfigFileUsed()
		if file == "" {
			file = styles.MutedStyle.Render("none")
		}
		fmt.Println(styles.HeaderStyle.Render("Configuration"))
		fmt.Printf("%s %s\n\n", styles.LabelStyle.Render("file:"), file)

		keys := viper.AllKeys()
		sort.Strings(keys)
		section := ""
		for _, key := range keys {
			if s, _, ok := strings.Cut(key, "."); ok && s != section {
				section = s
				fmt.Println(styles.SectionStyle.Render(section))
			}
			fmt.Printf("  %s = %s %s\n",
				styles.KeyStyle.Render(key),
				styles.ValueStyle.Render(fmt.Sprint(viper.Get(key))),
				styles.MutedStyle.Render("("+settingSource(key)+")"))
		}
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "List the configuration search path",
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range configSearchPaths() {
			fmt.Println(searchPathLine(p, viper.ConfigFileUsed()))
		}
	},
}

// searchPathLine marks p as missing, found or active. The active file is
// shown in bold.
func searchPathLine(p, active string) string {
	mark := styles.MutedStyle.Render("missing")
	if filesystem.Exists(p) {
		mark = styles.SuccessStyle.Render("found")
	}
	shown := p
	if p == active {
		mark = styles.SuccessStyle.Render("active")
		shown = styles.BoldStyle.Render(p)
	}
	return fmt.Sprintf("%-8s %s", mark, shown)
}

// settingSource reports where viper took key from.
func settingSource(key string) string {
	env := config.EnvPrefix + "_" + strings.ToUpper(envKeyReplacer.Replace(key))
	switch {
	case flagChanged(key):
		return "flag"
	case os.Getenv(env) != "":
		return "env " + env
	case viper.InConfig(key):
		return "file"
	default:
		return "default"
	}
}

func flagChanged(key string) bool {
	names := map[string]string{"log_level": "log-level", "socket": "socket", "daemon.socket": "daemon-socket"}
	name, ok := names[key]
	if !ok {
		return false
	}
	f := rootCmd.PersistentFlags().Lookup(name)
	return f != nil && f.Changed
}

func configSearchPaths() []string {
	file := config.FileName + ".yaml"
	paths := []string{file}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, file))
	}
	paths = append(paths, filepath.Join("/etc/vmcap", file))
	if cfgFile != "" {
		paths = append([]string{cfgFile}, paths...)
	}
	for i, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			paths[i] = abs
		}
	}
	return paths
}

const sampleConfig = `# vmcap configuration. Every key can also be set as VMCAP_<KEY> with dots
# replaced by underscores, e.g. VMCAP_QEMU_MEMORY_MB=8192.

log_level: info

# vm_id used when a command is given no VM argument.
# vm_id: "106"

qmp:
  socket_dir: /var/run/qemu-server

daemon:
  base_path: ~/.vmcap
  # socket: ~/.vmcap/daemon.sock
  # catalog: ~/.vmcap/catalog.json
  stop_timeout: 30s

# nvram:
#   database: ~/.vmcap/nvram.db

qemu:
  binary: qemu-system-aarch64
  memory_mb: 4096
  cpus: 4
  netdev: user
  display: virtio-gpu-pci

input:
  key_hold: 100ms
  key_gap: 20ms
  pointer_settle: 200ms

automation:
  poll_interval: 1s

ocr:
  columns: 160
  rows: 50
  # training_data: ~/.vmcap_training_data.json

screenshot:
  format: png
`

func init() {
	configCmd.AddCommand(configInitCmd, configValidateCmd, configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
