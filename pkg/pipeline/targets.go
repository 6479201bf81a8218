package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/relmake/relmake/pkg/dist"
	"github.com/relmake/relmake/pkg/vcs"
)

var standardTargets = []string{"all", "clean", "test", "cover", "release"}

func isStandardTarget(name string) bool {
	for _, target := range standardTargets {
		if name == target {
			return true
		}
	}
	return false
}

// TargetOptions carries the CLI switches that influence the built-in targets.
type TargetOptions struct {
	// AssumeYes skips the interactive release confirmations.
	AssumeYes bool
	// Force releases even from a dirty worktree.
	Force bool
}

// BuiltinTargets merges the standard targets derived from the project metadata
// into the manifest's task list. The parser rejects manifest tasks that use a
// standard name, so the merge can't clobber anything.
func BuiltinTargets(proj *Project, projectRoot string, tasks TaskList, opts TargetOptions) TaskList {
	merged := make(TaskList, len(tasks)+len(standardTargets))
	for name, task := range tasks {
		merged[name] = task
	}

	merged["clean"] = &Task{
		Short: "clean",
		Desc:  "remove build and dist artifacts",
		Base:  projectRoot,
		Env:   map[string]string{},
		Cmds:  []TaskCmd{cleanStep(proj, projectRoot)},
	}

	merged["all"] = &Task{
		Short: "all",
		Desc:  "clean, then install the package",
		Base:  projectRoot,
		Env:   map[string]string{},
		Deps:  []string{"clean"},
		Cmds:  requiredScripts("all", command{"install", proj.InstallCmd}),
	}

	merged["test"] = &Task{
		Short: "test",
		Desc:  "clean, build and run the test suite",
		Base:  projectRoot,
		Env:   map[string]string{},
		Deps:  []string{"clean"},
		Cmds: append(
			optionalScripts("test", command{"build", proj.BuildCmd}),
			append(
				requiredScripts("test", command{"test", proj.TestCmd}),
				optionalScripts("test", command{"check", proj.CheckCmd})...,
			)...,
		),
	}

	merged["cover"] = &Task{
		Short: "cover",
		Desc:  "run the test suite with coverage instrumentation",
		Base:  projectRoot,
		Env:   map[string]string{},
		Deps:  []string{"clean"},
		Cmds: append(
			optionalScripts("cover", command{"build", proj.BuildCmd}),
			coverStep(proj, projectRoot),
		),
	}

	merged["release"] = &Task{
		Short: "release",
		Desc:  "build and upload distribution artifacts",
		Base:  projectRoot,
		Env:   map[string]string{},
		Deps:  []string{"clean"},
		Cmds:  releaseSteps(proj, projectRoot, opts),
	}

	return merged
}

type command struct {
	name   string
	script string
}

func requiredScripts(target string, cmds ...command) []TaskCmd {
	result := make([]TaskCmd, 0, len(cmds))
	for idx, cmd := range cmds {
		if cmd.script == "" {
			cmd := cmd
			result = append(result, TaskCmdFunc{
				Name: cmd.name,
				Fn: func(context.Context, bool) error {
					return eris.Errorf("the %s target needs the %s command in project()", target, cmd.name)
				},
			})
			continue
		}

		result = append(result, TaskCmdScript{TaskName: target, Content: cmd.script, Index: idx})
	}
	return result
}

func optionalScripts(target string, cmds ...command) []TaskCmd {
	result := make([]TaskCmd, 0, len(cmds))
	for idx, cmd := range cmds {
		if cmd.script == "" {
			continue
		}

		result = append(result, TaskCmdScript{TaskName: target, Content: cmd.script, Index: idx})
	}
	return result
}

func cleanStep(proj *Project, projectRoot string) TaskCmd {
	return TaskCmdFunc{
		Name: "remove build artifacts",
		Fn: func(ctx context.Context, dryRun bool) error {
			for _, dir := range proj.BuildDirs {
				path := filepath.Join(projectRoot, dir)
				_, err := os.Stat(path)
				if err != nil {
					if eris.Is(err, os.ErrNotExist) {
						continue
					}
					return eris.Wrapf(err, "Failed to check %s", path)
				}

				log(ctx).Info().Str("task", "clean").Msgf("removing %s", dir)
				if dryRun {
					continue
				}

				err = os.RemoveAll(path)
				if err != nil {
					return eris.Wrapf(err, "Could not delete %s", path)
				}
			}

			matches, err := resolvePatternLists(ctx, projectRoot, proj.CleanPatterns)
			if err != nil {
				return eris.Wrap(err, "failed to resolve clean patterns")
			}

			for _, match := range matches {
				log(ctx).Debug().Str("task", "clean").Msgf("removing %s", match)
				if dryRun {
					continue
				}

				err = os.Remove(match)
				if err != nil && !eris.Is(err, os.ErrNotExist) {
					return eris.Wrapf(err, "Could not delete %s", match)
				}
			}

			return nil
		},
	}
}

var coverPercentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

// coverStep runs the coverage command while capturing its output and checks
// the reported total against the configured minimum.
func coverStep(proj *Project, projectRoot string) TaskCmd {
	return TaskCmdFunc{
		Name: "coverage report",
		Fn: func(ctx context.Context, dryRun bool) error {
			if proj.CoverCmd == "" {
				return eris.New("the cover target needs a cover command in project()")
			}

			log(ctx).Info().Str("task", "cover").Bool("command", true).Msg(proj.CoverCmd)
			if dryRun {
				return nil
			}

			parser := syntax.NewParser()
			file, err := parser.Parse(strings.NewReader(proj.CoverCmd), "cover")
			if err != nil {
				return eris.Wrap(err, "failed to parse cover command")
			}

			output := strings.Builder{}
			runner, err := interp.New(
				interp.Dir(projectRoot),
				interp.ExecHandler(execHandler),
				interp.OpenHandler(openHandler),
				interp.StdIO(nil, io.MultiWriter(os.Stdout, &output), os.Stderr),
				interp.Params("-e"),
			)
			if err != nil {
				return eris.Wrap(err, "Failed to initialize runner")
			}

			for _, stmt := range file.Stmts {
				err = runner.Run(ctx, stmt)
				if err != nil {
					return err
				}
			}

			matches := coverPercentPattern.FindAllStringSubmatch(output.String(), -1)
			if len(matches) == 0 {
				if proj.CoverMin > 0 {
					return eris.New("could not find a coverage percentage in the tool output")
				}
				return nil
			}

			percent, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
			if err != nil {
				return eris.Wrap(err, "failed to parse coverage percentage")
			}

			log(ctx).Info().Str("task", "cover").Msgf("total coverage: %.1f%%", percent)
			if proj.CoverMin > 0 && percent < proj.CoverMin {
				return eris.Errorf("coverage %.1f%% is below the required minimum of %.1f%%", percent, proj.CoverMin)
			}

			return nil
		},
	}
}

// releaseState is shared between the release steps so the upload steps see
// the artifacts the pack step produced.
type releaseState struct {
	artifacts []*dist.Artifact
}

func releaseSteps(proj *Project, projectRoot string, opts TargetOptions) []TaskCmd {
	state := new(releaseState)

	steps := []TaskCmd{releasePreflight(proj, projectRoot, opts)}

	if proj.DocsCmd != "" {
		steps = append(steps, TaskCmdScript{TaskName: "release", Content: proj.DocsCmd})
	}

	steps = append(steps,
		packArtifacts(proj, projectRoot, state),
		uploadArtifacts(proj, state, opts),
	)

	if proj.GitHubOwner != "" {
		steps = append(steps, publishGitHub(proj, state))
	}

	return append(steps, tagRelease(proj, projectRoot, opts))
}

func confirm(message string) bool {
	ok := false
	err := survey.AskOne(&survey.Confirm{Message: message}, &ok)
	if err != nil {
		return false
	}
	return ok
}

func releasePreflight(proj *Project, projectRoot string, opts TargetOptions) TaskCmd {
	return TaskCmdFunc{
		Name: "release preflight",
		Fn: func(ctx context.Context, dryRun bool) error {
			if proj.IndexURL == "" && proj.GitHubOwner == "" {
				return eris.New("the release target needs an index_url or a github repository in project()")
			}

			clean, err := vcs.IsClean(projectRoot)
			if err != nil {
				log(ctx).Warn().Str("task", "release").Msg("not a git repository, skipping the worktree check")
				return nil
			}

			if !clean {
				if opts.Force {
					log(ctx).Warn().Str("task", "release").Msg("releasing despite uncommitted changes")
					return nil
				}

				if opts.AssumeYes || dryRun {
					return eris.New("the worktree has uncommitted changes, pass --force to release anyway")
				}

				if !confirm("The worktree has uncommitted changes. Release anyway?") {
					return eris.New("release aborted")
				}
			}

			return nil
		},
	}
}

func packArtifacts(proj *Project, projectRoot string, state *releaseState) TaskCmd {
	return TaskCmdFunc{
		Name: "build distribution artifacts",
		Fn: func(ctx context.Context, dryRun bool) error {
			distDir := filepath.Join(projectRoot, proj.DistDir)
			prefix := fmt.Sprintf("%s-%s", proj.Name, proj.Version)
			srcDir := filepath.Join(projectRoot, proj.SourceDir)

			for _, format := range proj.Formats {
				destPath := filepath.Join(distDir, proj.ArchiveName(format))
				log(ctx).Info().Str("task", "release").Msgf("packing %s", proj.ArchiveName(format))
				if dryRun {
					continue
				}

				exclude := append([]string{proj.DistDir, proj.DistDir + "/*"}, proj.Exclude...)
				artifact, err := dist.BuildArchive(ctx, srcDir, destPath, prefix, format, exclude)
				if err != nil {
					return eris.Wrapf(err, "failed to build %s archive", format)
				}

				state.artifacts = append(state.artifacts, artifact)
			}

			if proj.DocsDir != "" {
				docsDir := filepath.Join(projectRoot, proj.DocsDir)
				if info, err := os.Stat(docsDir); err == nil && info.IsDir() {
					destPath := filepath.Join(distDir, proj.DocsBundleName())
					log(ctx).Info().Str("task", "release").Msgf("packing %s", proj.DocsBundleName())
					if !dryRun {
						artifact, err := dist.BuildDocsBundle(ctx, docsDir, destPath)
						if err != nil {
							return eris.Wrap(err, "failed to build docs bundle")
						}

						state.artifacts = append(state.artifacts, artifact)
					}
				} else {
					log(ctx).Warn().Str("task", "release").Msgf("docs directory %s is missing, skipping the docs bundle", proj.DocsDir)
				}
			}

			return nil
		},
	}
}

func uploadArtifacts(proj *Project, state *releaseState, opts TargetOptions) TaskCmd {
	return TaskCmdFunc{
		Name: "upload to index",
		Fn: func(ctx context.Context, dryRun bool) error {
			if proj.IndexURL == "" {
				log(ctx).Info().Str("task", "release").Msg("no index_url configured, skipping the index upload")
				return nil
			}

			if dryRun {
				log(ctx).Info().Str("task", "release").Msgf("would upload %d artifacts to %s", len(proj.Formats), proj.IndexURL)
				return nil
			}

			if !opts.AssumeYes {
				message := fmt.Sprintf("Upload %d artifacts to %s?", len(state.artifacts), proj.IndexURL)
				if !confirm(message) {
					return eris.New("release aborted")
				}
			}

			client := dist.NewIndexClient(proj.IndexURL)
			err := client.Register(ctx, proj.Name, proj.Version)
			if err != nil {
				return err
			}

			for _, artifact := range state.artifacts {
				log(ctx).Info().Str("task", "release").Msgf("uploading %s", artifact.Name)
				err = client.Upload(ctx, proj.Name, proj.Version, artifact)
				if err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func publishGitHub(proj *Project, state *releaseState) TaskCmd {
	return TaskCmdFunc{
		Name: "publish GitHub release",
		Fn: func(ctx context.Context, dryRun bool) error {
			if dryRun {
				log(ctx).Info().Str("task", "release").Msgf("would create release %s on %s/%s", proj.TagName(), proj.GitHubOwner, proj.GitHubRepo)
				return nil
			}

			log(ctx).Info().Str("task", "release").Msgf("creating release %s on %s/%s", proj.TagName(), proj.GitHubOwner, proj.GitHubRepo)
			return dist.PublishGitHub(ctx, proj.GitHubOwner, proj.GitHubRepo, proj.TagName(), state.artifacts)
		},
	}
}

func tagRelease(proj *Project, projectRoot string, opts TargetOptions) TaskCmd {
	return TaskCmdFunc{
		Name: "tag release",
		Fn: func(ctx context.Context, dryRun bool) error {
			tag := proj.TagName()

			_, err := vcs.RepoRoot(projectRoot)
			if err != nil {
				log(ctx).Warn().Str("task", "release").Msgf("not a git repository, remember to tag this release as %s", tag)
				return nil
			}

			if dryRun {
				log(ctx).Info().Str("task", "release").Msgf("would tag the release as %s", tag)
				return nil
			}

			if opts.AssumeYes || confirm(fmt.Sprintf("Create tag %s?", tag)) {
				err = vcs.CreateTag(projectRoot, tag, fmt.Sprintf("%s %s", proj.Name, proj.Version))
				if err != nil {
					return err
				}

				log(ctx).Info().Str("task", "release").Msgf("created tag %s", tag)
			}

			log(ctx).Info().Str("task", "release").Msg("don't forget: git push && git push --tags")
			return nil
		},
	}
}
