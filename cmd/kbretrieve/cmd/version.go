package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbretrieve/internal/output"
	"github.com/Aman-CERP/kbretrieve/pkg/version"
)

type versionOptions struct {
	json    bool
	short   bool
	verbose bool
}

func newVersionCmd() *cobra.Command {
	var opts versionOptions

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			switch {
			case opts.short:
				_, err := fmt.Fprintln(w, version.Short())
				return err
			case opts.json:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(version.GetInfo())
			case opts.verbose:
				info := version.GetInfo()
				out := output.New(w)
				out.Status("", "kbretrieve build")
				out.KeyValues(map[string]string{
					"version":    info.Version,
					"commit":     info.Commit,
					"built":      info.Date,
					"go":         info.GoVersion,
					"platform":   info.OS + "/" + info.Arch,
					"user-agent": version.UserAgent(),
				})
				return nil
			}
			_, err := fmt.Fprintln(w, version.String())
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&opts.short, "short", false, "Output only the version number")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show build details including platform and User-Agent")

	return cmd
}
