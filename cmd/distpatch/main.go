// cmd/distpatch/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"distpatch/internal/buildtool"
	"distpatch/internal/config"
	"distpatch/internal/fingerprint"
	"distpatch/internal/logging"
	"distpatch/internal/manifest"
	"distpatch/internal/pipeline"
	"distpatch/internal/registry"
	"distpatch/internal/runlog"
	"distpatch/internal/safe"
	"distpatch/internal/snapshot"
	"distpatch/internal/vcs"
	"distpatch/shared/utils"

	"github.com/dgraph-io/badger/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configPath string

// exitCode is what main exits with after cobra finishes. RunE handlers set
// it instead of calling os.Exit, which would skip their cleanup.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "distpatch",
	Short: "distpatch builds and publishes verified dist patches",
	Long: `distpatch applies a curated, ordered change set onto an upstream release,
builds the dependency before and after, and publishes the normalized diff of
the build outputs as a versioned, verified artifact.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "distpatch.json", "path to run configuration")

	var (
		tag          string
		dryRun       bool
		freshClone   bool
		forceRebuild bool
		onDrift      string
		interactive  bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the patch pipeline against an upstream tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if onDrift != "" {
				cfg.OnDrift = config.DriftPolicy(onDrift)
			}

			outcome, err := executeRun(cfg, pipeline.RunConfig{
				Tag:          tag,
				DryRun:       dryRun,
				FreshClone:   freshClone,
				ForceRebuild: forceRebuild,
				OnDrift:      cfg.OnDrift,
			}, interactive)
			if err != nil {
				return err
			}

			printOutcome(outcome, dryRun)
			exitCode = outcome.Exit()
			return nil
		},
	}
	runCmd.Flags().StringVarP(&tag, "tag", "t", "", "upstream release tag to patch")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "stop before committing or publishing anything")
	runCmd.Flags().BoolVar(&freshClone, "fresh-clone", false, "restore the dependency workspace to a pristine state first")
	runCmd.Flags().BoolVar(&forceRebuild, "force-rebuild", false, "bypass the build cache")
	runCmd.Flags().StringVar(&onDrift, "on-drift", "", "what to do when the artifact drifted: abort or overwrite")
	runCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt on drift instead of applying the policy")
	runCmd.MarkFlagRequired("tag")

	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect the published artifact manifest",
	}

	manifestListCmd := &cobra.Command{
		Use:   "list",
		Short: "List all published dist patches",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			doc, err := reg.Load()
			if err != nil {
				return err
			}
			if len(doc) == 0 {
				fmt.Println("No dist patches published")
				return nil
			}

			names := make([]string, 0, len(doc))
			for name := range doc {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				entry := doc[name]
				fmt.Printf("%s  %s  %s  [%d changes]\n",
					name,
					entry.Upstream,
					entry.Created.Format("2006-01-02"),
					len(entry.ChangeRefs),
				)
			}
			return nil
		},
	}

	manifestShowCmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Show one manifest entry and its change refs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			entry, ok, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no manifest entry for %s", args[0])
			}

			fmt.Printf("Name:         %s\n", args[0])
			fmt.Printf("Upstream:     %s\n", entry.Upstream)
			fmt.Printf("Source patch: %s\n", entry.SourcePatch)
			fmt.Printf("Created:      %s\n", entry.Created.Format("2006-01-02 15:04:05 MST"))
			fmt.Println("Change refs:")
			for i, ref := range entry.ChangeRefs {
				fmt.Printf("  %2d. %s\n", i+1, ref)
			}
			return nil
		},
	}

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List past pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := runlog.NewStore(db).List()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}

			for _, rec := range records {
				line := fmt.Sprintf("%s  %s  %s  %s  %s",
					rec.ID[:8],
					rec.Started.Format("2006-01-02 15:04"),
					rec.Tag,
					rec.State,
					rec.Result,
				)
				switch rec.State {
				case string(pipeline.StateSuccess):
					fmt.Println(line)
				default:
					color.New(color.FgRed).Println(line)
				}
			}
			return nil
		},
	}

	manifestCmd.AddCommand(manifestListCmd)
	manifestCmd.AddCommand(manifestShowCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(runsCmd)
}

func openDB(cfg *config.Config) (*badger.DB, error) {
	opts := badger.DefaultOptions(filepath.Join(cfg.DataDir, "db"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func openRegistry() (*manifest.Registry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return manifest.NewRegistry(filepath.Join(cfg.Workspaces.Artifact, cfg.ManifestFile), logger.Logger), nil
}

func executeRun(cfg *config.Config, run pipeline.RunConfig, interactive bool) (*pipeline.Outcome, error) {
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	changeset, err := config.LoadChangeSet(cfg.ChangesetFile)
	if err != nil {
		return nil, err
	}
	run.ChangeSet = changeset

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	blobs, err := safe.New(db, safe.Options{Root: filepath.Join(cfg.DataDir, "blobs")})
	if err != nil {
		return nil, fmt.Errorf("initializing blob safe: %w", err)
	}
	defer blobs.Close()

	snaps := snapshot.NewStore(blobs, logger.Logger)
	builder, err := buildtool.NewCommandBuilder(cfg.Build.Command, cfg.Build.Output, logger.Logger)
	if err != nil {
		return nil, err
	}

	var confirm pipeline.Confirm
	if interactive {
		confirm = promptConfirm
	}

	p := pipeline.New(pipeline.Options{
		Run:        run,
		Dep:        vcs.NewGitRepo(cfg.Workspaces.Dependency, logger.Logger),
		Art:        vcs.NewGitRepo(cfg.Workspaces.Artifact, logger.Logger),
		Builder:    builder,
		Publisher:  registry.NewCommandPublisher(cfg.Publish.Command, logger.Logger),
		Snapshots:  snaps,
		Verifier:   fingerprint.NewVerifier(snaps, logger.Logger),
		Registry:   manifest.NewRegistry(filepath.Join(cfg.Workspaces.Artifact, cfg.ManifestFile), logger.Logger),
		Comparator: manifest.NewComparator(filepath.Join(cfg.Workspaces.Artifact, cfg.PatchDir), logger.Logger),
		Runs:       runlog.NewStore(db),
		Confirm:    confirm,
		Logger:     logger.Logger,

		Remote:      cfg.Publish.Remote,
		PatchDir:    cfg.PatchDir,
		ManifestRel: cfg.ManifestFile,
		Fingerprint: cfg.Fingerprint,
		GuardPaths:  []string{cfg.ChangesetFile, configPath},
	})

	return p.Execute(context.Background()), nil
}

func printOutcome(outcome *pipeline.Outcome, dryRun bool) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	switch outcome.Result {
	case pipeline.ResultPublished:
		fmt.Printf("%s published %s (%s)\n", green("✓"), outcome.DistPatch.Name, utils.ShortHash(outcome.DistPatch.Hash))
	case pipeline.ResultNoChanges:
		fmt.Printf("%s build outputs identical, nothing to publish\n", green("✓"))
	case pipeline.ResultNoOp:
		fmt.Printf("%s already published with identical content\n", green("✓"))
	case pipeline.ResultSkipped:
		fmt.Printf("%s drift detected, overwrite declined\n", yellow("~"))
	case pipeline.ResultDryRun:
		fmt.Printf("%s dry-run: %s would be published (%s)\n", yellow("~"), outcome.DistPatch.Name, utils.ShortHash(outcome.DistPatch.Hash))
		if dryRun && outcome.DistPatch != nil {
			fmt.Println()
			printColoredDiff(string(outcome.DistPatch.Content))
		}
	default:
		fmt.Printf("%s run %s: %v\n", red("✗"), outcome.Result, outcome.Err)
	}

	if outcome.Fingerprint != nil {
		fmt.Printf("  fingerprint at %s:%d\n", outcome.Fingerprint.Path, outcome.Fingerprint.Line)
	}
}

func promptConfirm(prompt string) bool {
	fmt.Printf("%s\nOverwrite the published artifact? [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func printColoredDiff(diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"), strings.HasPrefix(line, "diff --dist"):
			header.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
