package commands

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/datacat/am"
	"github.com/teranos/datacat/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage datacat configuration",
	Long: `am - Manage datacat configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (DATACAT_* prefix)
2. Project config (./am.toml, searched upwards)
3. User config (~/.datacat/am.toml)
4. System config (/etc/datacat/am.toml)
5. Default values

Examples:
  datacat am init                   # Write defaults to ~/.datacat/am.toml
  datacat am show                   # Show the effective configuration
  datacat am show --format json     # Same, as JSON
  datacat am where                  # List the files that were checked`,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Long:  "Write the default configuration to path (default ~/.datacat/am.toml). An existing file is backed up first.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runAmShow,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Args:  cobra.NoArgs,
	RunE:  runAmWhere,
}

func init() {
	AmCmd.AddCommand(amInitCmd)
	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := am.UserConfigPath()
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.WithHint(errors.New("no home directory to write config to"), "pass a path: datacat am init ./am.toml")
	}

	if err := am.WriteDefault(path); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	// Secrets come from the environment; never echo them back.
	shown := *cfg
	if shown.Storage.SecretKey != "" {
		shown.Storage.SecretKey = "********"
	}

	if OutputFormat == "table" || OutputFormat == "" {
		data, err := am.Marshal(&shown)
		if err != nil {
			return err
		}
		fmt.Printf("# datacat configuration\n%s", string(data))
		return nil
	}
	_, err = structured(&shown)
	return err
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	paths := am.ConfigPaths()
	rows := make([][]string, 0, len(paths))
	for i := len(paths) - 1; i >= 0; i-- {
		state := "missing"
		if _, err := os.Stat(paths[i]); err == nil {
			state = "loaded"
		}
		rows = append(rows, []string{paths[i], state})
	}
	return renderTable([]string{"Path (highest precedence first)", "State"}, rows)
}
