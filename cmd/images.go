package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeeftor/vmcap/internal/images"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/rpc"
	"github.com/jeeftor/vmcap/internal/styles"
)

var (
	imageDiskGiB int
	imageVersion string
)

var imagesCmd = &cobra.Command{
	Use:     "images",
	Aliases: []string{"image"},
	Short:   "Manage the daemon's machine images",
}

var imagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored images",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printList(daemonRequest(map[string]any{"request": "image-list"}), "No images")
	},
}

var imagesCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List restore images that can be fetched",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printList(daemonRequest(map[string]any{"request": "installable-image-list"}), "Catalog is empty")
	},
}

var imagesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Allocate an empty image",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"request": "image-create", "name": args[0], "diskGiB": imageDiskGiB}
		if imageVersion != "" {
			req["version"] = imageVersion
		}
		reply := daemonRequest(req)
		mac, _ := reply.String("macAddress")
		version, _ := reply.String("version")
		logging.Successf("Created image %s (platform %s, MAC %s)", args[0], version, mac)
	},
}

func printList(reply rpc.Message, empty string) {
	var names []string
	if err := reply.Decode("list", &names); err != nil || len(names) == 0 {
		logging.UserInfof("%s", empty)
		return
	}
	for _, n := range names {
		fmt.Println(styles.ValueStyle.Render(n))
	}
}

func init() {
	imagesCreateCmd.Flags().IntVar(&imageDiskGiB, "disk", images.DefaultDiskGiB, "disk size in GiB")
	imagesCreateCmd.Flags().StringVar(&imageVersion, "version", "", "platform version, e.g. 13.0")
	imagesCmd.AddCommand(imagesListCmd, imagesCatalogCmd, imagesCreateCmd)
	rootCmd.AddCommand(imagesCmd)
}
