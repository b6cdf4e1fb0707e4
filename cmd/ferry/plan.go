package ferry

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opnlabs/ferry/pkg/manifest"
	"github.com/opnlabs/ferry/pkg/models"
	"github.com/opnlabs/ferry/pkg/pipeline"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Shows the resolved publish order without publishing anything",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger()

		file, err := models.Load(releaseFilePath)
		if err != nil {
			logger.Fatal(err)
		}

		job, err := pipeline.Plan(file, releaseTag())
		if err != nil {
			logger.Fatal(err)
		}
		job.ResolveVersions(manifest.Read, logger)

		fmt.Println(pipeline.PlanReport(job))
	},
}
