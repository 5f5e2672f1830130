package cli

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/portsweep/internal/targets"
)

func newInterfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "List local interfaces usable with --interface",
		Long: `List the local network interfaces that carry an IPv4 address, with the
/24 network a scan of that interface would cover.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ifaces, err := targets.ListInterfaces()
			if err != nil {
				return err
			}
			if len(ifaces) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No interfaces with an IPv4 address found.")
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Name", "Address", "Network", "Up")
			for _, iface := range ifaces {
				up := "no"
				if iface.Up {
					up = "yes"
				}
				_ = table.Append([]string{iface.Name, iface.Addr.String(), iface.Network.String(), up})
			}
			return table.Render()
		},
	}
}
