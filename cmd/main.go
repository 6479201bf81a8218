// Package cmd implements the relmake CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/relmake/relmake/pkg/pipeline"
)

const manifestName = "pipeline.star"

var rootCmd = &cobra.Command{
	Use:   "relmake [NAME=value ...] [target ...]",
	Short: "Release pipeline runner",
	Long: `relmake parses the first pipeline.star manifest it finds and executes the given
targets. The standard targets (all, clean, test, cover, release) are derived
from the project metadata declared in the manifest; additional tasks can be
declared with task().`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs := make([]string, 0)
		options := make(map[string]string)
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		assumeYes, err := cmd.Flags().GetBool("yes")
		if err != nil {
			return err
		}

		noCache, err := cmd.Flags().GetBool("no-cache")
		if err != nil {
			return err
		}

		for _, part := range args {
			pos := strings.Index(part, "=")
			if pos > -1 {
				options[part[:pos]] = part[pos+1:]
			} else {
				taskArgs = append(taskArgs, part)
			}
		}

		logger := zerolog.New(NewConsoleWriter())
		ctx := context.Background()
		ctx = pipeline.WithLogger(ctx, &logger)

		// search the next pipeline.star file
		wd, err := os.Getwd()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to retrieve the current working directory")
		}

		path := wd
		var manifestPath string
		for {
			manifestPath = filepath.Join(path, manifestName)
			_, err := os.Stat(manifestPath)
			if err == nil {
				break
			}
			if !eris.Is(err, os.ErrNotExist) {
				logger.Fatal().Err(err).Msgf("Failed to check %s", manifestPath)
			}

			parent := filepath.Dir(path)
			if parent == path {
				logger.Fatal().Msgf("No %s file found", manifestName)
			}

			path = parent
		}

		manifestPath, err = filepath.Rel(wd, manifestPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to simplify path")
		}

		projectRoot := filepath.Dir(manifestPath)
		taskList, proj, err := loadManifest(ctx, manifestPath, projectRoot, options, noCache)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to parse the manifest")
		}

		taskList = pipeline.BuiltinTargets(proj, projectRoot, taskList, pipeline.TargetOptions{
			AssumeYes: assumeYes,
			Force:     force,
		})

		for _, name := range taskArgs {
			if _, ok := taskList[name]; !ok {
				logger.Fatal().Msgf("Task %s not found", name)
			}

			err = pipeline.RunTask(ctx, projectRoot, name, taskList, dryRun, force)
			if err != nil {
				logger.Fatal().Err(err).Msgf("Failed task %s:", name)
			}
		}

		if len(taskArgs) == 0 {
			fmt.Println("Available tasks:")
			maxNameLen := 0
			sortedNames := make([]string, 0)
			for _, task := range taskList {
				if task.Hidden {
					continue
				}

				nameLen := len(task.Short)
				if nameLen > maxNameLen {
					maxNameLen = nameLen
				}

				sortedNames = append(sortedNames, task.Short)
			}

			sort.Strings(sortedNames)

			lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
			for _, name := range sortedNames {
				fmt.Printf(lineFmt, name+":", taskList[name].Desc)
			}
		}

		return nil
	},
}

// loadManifest returns the manifest tasks and project metadata, going through
// the gob cache when the manifest hasn't changed since the last run.
func loadManifest(ctx context.Context, manifestPath, projectRoot string, options map[string]string, noCache bool) (pipeline.TaskList, *pipeline.Project, error) {
	cachePath := filepath.Join(projectRoot, ".relmake.cache")

	if !noCache {
		manifestInfo, err := os.Stat(manifestPath)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "Failed to check %s", manifestPath)
		}

		cacheInfo, err := os.Stat(cachePath)
		if err == nil && cacheInfo.ModTime().After(manifestInfo.ModTime()) {
			cachedOptions, proj, tasks, err := pipeline.ReadCache(cachePath)
			if err == nil && proj != nil && sameOptions(cachedOptions, options) {
				return tasks, proj, nil
			}
		}
	}

	tasks, _, proj, err := pipeline.RunScript(ctx, manifestPath, projectRoot, options, true)
	if err != nil {
		return nil, nil, err
	}

	if !noCache {
		err = pipeline.WriteCache(cachePath, options, proj, tasks)
		if err != nil {
			os.Remove(cachePath)
		}
	}

	return tasks, proj, nil
}

func sameOptions(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}

	for key, value := range a {
		if b[key] != value {
			return false
		}
	}
	return true
}

func init() {
	rootCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	rootCmd.Flags().BoolP("force", "f", false, "force build; always execute the passed targets even if they don't have to run, and release even from a dirty worktree")
	rootCmd.Flags().BoolP("yes", "y", false, "assume yes for all release confirmations; a dirty worktree still refuses without --force")
	rootCmd.Flags().Bool("no-cache", false, "always re-evaluate the manifest")
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
