package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nimbusfs/httpd/internal/server"
)

var infoCmd = &cobra.Command{
	Use:   "info [dir]",
	Short: "Report disk usage of a directory tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}

		used, err := server.DirUsedBytes(abs)
		if err != nil {
			return fmt.Errorf("walking %s: %w", abs, err)
		}
		fmt.Printf("%s: %d bytes in files\n", abs, used)

		if free, diskUsed, err := server.DiskUsage(abs); err == nil {
			fmt.Printf("filesystem: %d bytes used, %d bytes free\n", diskUsed, free)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
