package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/datacat/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show datacat version information",
	Long:  `Display version, build time, commit hash and platform information for the datacat binary.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		if done, err := structured(info); done {
			return err
		}
		fmt.Println(info.String())
		fmt.Printf("Platform: %s\n", info.Platform)
		fmt.Printf("Go: %s\n", info.GoVersion)
		return nil
	},
}
