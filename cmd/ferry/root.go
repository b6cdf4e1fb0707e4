package ferry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/opnlabs/ferry/pkg/manifest"
	"github.com/opnlabs/ferry/pkg/models"
	"github.com/opnlabs/ferry/pkg/pipeline"
	"github.com/opnlabs/ferry/pkg/publisher"
	"github.com/opnlabs/ferry/pkg/registry"
	"github.com/opnlabs/ferry/pkg/store"
	"github.com/opnlabs/ferry/pkg/wait"
)

var (
	releaseFilePath string
	tagName         string
	registryToken   string
	envVars         []string
	dryRun          bool
	useDocker       bool
	dockerImage     string
	logLevel        string
)

var rootCmd = &cobra.Command{
	Use:   "ferry",
	Short: "Ferry is a minimal release pipeline",
	Long: `Ferry publishes the packages declared in a release manifest ( default ferry.yml )
to a package registry, one at a time and in dependency order. Between a dependency and the
packages that depend on it, ferry waits for the registry index to catch up so the next
publish does not fail on a version the registry already accepted.`,

	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger()

		for _, v := range envVars {
			variable := strings.SplitN(v, "=", 2)
			if len(variable) != 2 || variable[0] == "" {
				logger.Fatal("variables should be defined as KEY=VALUE", "variable", v)
			}
		}

		run(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&releaseFilePath, "release-file", "f", "ferry.yml", "Path to the release manifest.")
	rootCmd.PersistentFlags().StringVarP(&tagName, "tag", "t", "", "Release tag label. Defaults to the FERRY_TAG environment variable.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error.")

	rootCmd.Flags().StringVar(&registryToken, "token", "", "Registry credential. Defaults to the environment variable the manifest names.")
	rootCmd.Flags().StringArrayVarP(&envVars, "environment-variable", "e", make([]string, 0), "Extra environment variables for the publish command. KEY=VALUE")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Ask the publish command to verify without uploading.")
	rootCmd.Flags().BoolVar(&useDocker, "docker", false, "Run each publish command in a container.")
	rootCmd.Flags().StringVar(&dockerImage, "image", "", "Toolchain image for --docker.")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(planCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "ferry",
	})
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		logger.Fatal("unknown log level", "level", logLevel)
	}
	logger.SetLevel(level)
	return logger
}

func releaseTag() string {
	if tagName != "" {
		return tagName
	}
	return os.Getenv("FERRY_TAG")
}

func run(logger *log.Logger) {
	ctx := context.Background()

	file, err := models.Load(releaseFilePath)
	if err != nil {
		logger.Fatal(err)
	}

	tokenEnv := file.Registry.TokenEnvOrDefault()
	token := registryToken
	if token == "" {
		token = os.Getenv(tokenEnv)
	}
	if strings.TrimSpace(token) == "" {
		logger.Fatal("registry credential missing", "env", tokenEnv)
	}

	job, err := pipeline.Plan(file, releaseTag())
	if err != nil {
		logger.Fatal(err)
	}
	job.ResolveVersions(manifest.Read, logger)

	var executor publisher.Executor = publisher.HostExecutor{}
	if useDocker {
		executor, err = publisher.NewDockerExecutor(publisher.DockerExecutorOptions{
			Image:         dockerImage,
			ShowImagePull: true,
		})
		if err != nil {
			logger.Fatal(err)
		}
	}

	pub, err := publisher.New(file.Publish.CommandOrDefault(), file.Publish.ArgsOrDefault(), tokenEnv,
		publisher.WithExecutor(executor),
		publisher.WithDryRun(dryRun),
		publisher.WithExtraEnv(envVars))
	if err != nil {
		logger.Fatal(err)
	}

	waiter, err := newWaiter(file, logger)
	if err != nil {
		logger.Fatal(err)
	}

	outcomes := store.NewMemStore()
	runner := pipeline.NewRunner(pub, waiter,
		pipeline.WithLogger(logger),
		pipeline.WithStore(outcomes))

	result := runner.Run(ctx, job, token)
	fmt.Println(pipeline.Report(job, outcomes))

	if !result.Succeeded() {
		logger.Fatal("release failed", "run", job.ID, "package", result.Failed.Package, "err", result.Err)
	}
	logger.Info("release succeeded", "run", job.ID, "tag", job.Tag)
}

func newWaiter(file models.ReleaseFile, logger *log.Logger) (wait.Waiter, error) {
	switch file.Registry.WaitModeOrDefault() {
	case models.WaitPoll:
		interval, err := file.Registry.PollIntervalDuration()
		if err != nil {
			return nil, err
		}
		index := registry.NewIndex(file.Registry.IndexURLOrDefault(), 0)
		return wait.NewIndexPoll(index, interval, logger), nil
	default:
		return wait.NewFixed(logger), nil
	}
}
