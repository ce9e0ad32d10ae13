package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show reel version information",
	Long:  `Display version, build time, commit hash, and platform information for the reel binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		minimum, _ := cmd.Flags().GetString("check")

		if minimum != "" {
			ok, err := version.AtLeast(minimum)
			if err != nil {
				return errors.Wrapf(err, "invalid version constraint %q", minimum)
			}
			if !ok {
				return errors.Newf("reel %s is older than %s", version.Get().Version, minimum)
			}
		}

		info := version.Get()

		if jsonOutput {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return errors.Wrap(err, "format version info")
			}
			fmt.Println(string(output))
			return nil
		}
		fmt.Println(info.String())
		fmt.Printf("Platform: %s\n", info.Platform)
		fmt.Printf("Go: %s\n", info.GoVersion)
		if !version.IsRelease() {
			fmt.Println("Development build")
		}
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
	VersionCmd.Flags().String("check", "", "Fail unless this build is at least the given version")
}
