package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tutu-network/inferencegate/internal/daemon"
	"github.com/tutu-network/inferencegate/internal/domain"
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(psCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered models",
	RunE:  runList,
}

func runList(cmd *cobra.Command, _ []string) error {
	d, err := daemon.New(rootCmd.Version)
	if err != nil {
		return err
	}
	defer d.Close()

	models, err := d.Registry.List("")
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tMODALITY\tPROVIDER\tSTATUS\tSIZE")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.ModelID, m.Modality, m.Provider, m.Status, domain.HumanSize(m.SizeBytes))
	}
	return tw.Flush()
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "Show currently loaded models",
	RunE:  runPs,
}

func runPs(cmd *cobra.Command, _ []string) error {
	d, err := daemon.New(rootCmd.Version)
	if err != nil {
		return err
	}
	defer d.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSTATUS\tPINNED\tBUSY\tMEMORY")
	for _, e := range d.Lifecycle.LoadedModels() {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%s\n",
			e.ModelID, e.Status(), e.IsPinned, e.BusyCount, domain.HumanSize(int64(e.MemoryBytes)))
	}
	return tw.Flush()
}
