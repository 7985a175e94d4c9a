package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/inferencegate/internal/daemon"
	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
)

func init() {
	rootCmd.AddCommand(pullCmd)
}

var pullCmd = &cobra.Command{
	Use:   "pull MODEL",
	Short: "Download a model for local inference",
	Long: `Pull a model by catalog short name (e.g. tinyllama) or as a
huggingface owner/repo reference. The file lands under the model root
and the model becomes available for generation.`,
	Args: cobra.ExactArgs(1),
	RunE: runPull,
}

func runPull(cmd *cobra.Command, args []string) error {
	name := args[0]

	d, err := daemon.New(rootCmd.Version)
	if err != nil {
		return err
	}
	defer d.Close()

	req := domain.DownloadRequest{
		ModelID:      name,
		Name:         name,
		Modality:     domain.ModalityText,
		InstallLocal: true,
	}
	if entry, ok := registry.LookupCatalog(name); ok {
		req.Source = domain.ModelSource{
			Type: domain.SourceHuggingFace,
			URI:  entry.HFRepo + "/" + entry.HFFile,
		}
		fmt.Fprintf(os.Stderr, "pulling %s (%s, %s)...\n", name, entry.Description, domain.HumanSize(entry.SizeBytes))
	} else {
		req.Source = domain.ModelSource{Type: domain.SourceHuggingFace, URI: name}
		fmt.Fprintf(os.Stderr, "pulling %s...\n", name)
	}

	job, err := d.Jobs.Start(context.Background(), req)
	if err != nil {
		return err
	}

	pb := newProgressBar()
	for {
		j, ok := d.Jobs.Get(job.JobID)
		if !ok {
			return fmt.Errorf("job %s disappeared", job.JobID)
		}
		pb.render(j.ProgressPct)
		switch j.Status {
		case domain.JobCompleted:
			pb.done()
			return nil
		case domain.JobFailed:
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("download failed: %s", j.Err)
		case domain.JobCancelled:
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("download cancelled")
		}
		time.Sleep(200 * time.Millisecond)
	}
}
