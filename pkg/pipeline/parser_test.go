package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	logger := zerolog.Nop()
	return WithLogger(context.Background(), &logger)
}

func writeManifest(t *testing.T, content string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.star")
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)

	return path, dir
}

func TestRunScriptProject(t *testing.T) {
	t.Parallel()

	path, dir := writeManifest(t, `
project(
    name = "demo",
    version = "1.2.3",
    install = "pip install .",
    test = "pytest",
    cover = "pytest --cov",
    clean = ["**/*.pyc", "**/*.so"],
    formats = ["tar.gz", "zip"],
    index_url = "https://index.example.com/upload",
    cover_min = 80,
    github = "acme/demo",
)
`)

	tasks, options, proj, err := RunScript(testContext(), path, dir, nil, true)
	require.NoError(t, err)
	require.Empty(t, tasks)
	require.Empty(t, options)

	require.Equal(t, "demo", proj.Name)
	require.Equal(t, "1.2.3", proj.Version)
	require.Equal(t, "pip install .", proj.InstallCmd)
	require.Equal(t, "pytest", proj.TestCmd)
	require.Equal(t, []string{"**/*.pyc", "**/*.so"}, proj.CleanPatterns)
	require.Equal(t, []string{"tar.gz", "zip"}, proj.Formats)
	require.Equal(t, "https://index.example.com/upload", proj.IndexURL)
	require.Equal(t, 80.0, proj.CoverMin)
	require.Equal(t, "acme", proj.GitHubOwner)
	require.Equal(t, "demo", proj.GitHubRepo)
	require.Equal(t, "v1.2.3", proj.TagName())
	require.Equal(t, "demo-1.2.3.zip", proj.ArchiveName("zip"))
}

func TestRunScriptDefaults(t *testing.T) {
	t.Parallel()

	path, dir := writeManifest(t, `project(name = "demo", version = "0.1")`)

	_, _, proj, err := RunScript(testContext(), path, dir, nil, true)
	require.NoError(t, err)

	require.Equal(t, ".", proj.SourceDir)
	require.Equal(t, "dist", proj.DistDir)
	require.Equal(t, []string{"build", "dist"}, proj.BuildDirs)
	require.Equal(t, []string{"tar.gz"}, proj.Formats)
}

func TestRunScriptMissingProject(t *testing.T) {
	t.Parallel()

	path, dir := writeManifest(t, `option("flavor", default = "plain")`)

	_, _, _, err := RunScript(testContext(), path, dir, nil, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not call project()")
}

func TestRunScriptInvalidFormat(t *testing.T) {
	t.Parallel()

	path, dir := writeManifest(t, `project(name = "demo", version = "0.1", formats = ["rar"])`)

	_, _, _, err := RunScript(testContext(), path, dir, nil, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported artifact format")
}

func TestRunScriptTasks(t *testing.T) {
	t.Parallel()

	path, dir := writeManifest(t, `
project(name = "demo", version = "0.1")

def configure():
    task(
        "lint",
        desc = "run the linters",
        cmds = ["flake8 ."],
    )
    task(
        "docs",
        desc = "build the docs",
        deps = ["lint"],
        cmds = ["sphinx-build docs out"],
    )
`)

	tasks, _, _, err := RunScript(testContext(), path, dir, nil, true)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	lint, ok := tasks["lint"]
	require.True(t, ok)
	require.Equal(t, "run the linters", lint.Desc)
	require.Len(t, lint.Cmds, 1)

	docs, ok := tasks["docs"]
	require.True(t, ok)
	require.Equal(t, []string{"lint"}, docs.Deps)
}

func TestRunScriptTaskWithoutCmds(t *testing.T) {
	t.Parallel()

	path, dir := writeManifest(t, `
project(name = "demo", version = "0.1")

def configure():
    task("lint", cmds = ["flake8 ."])
    task("verify", desc = "aggregates the checks", deps = ["lint"])
`)

	tasks, _, _, err := RunScript(testContext(), path, dir, nil, true)
	require.NoError(t, err)

	verify, ok := tasks["verify"]
	require.True(t, ok)
	require.Empty(t, verify.Cmds)
	require.Equal(t, []string{"lint"}, verify.Deps)
}

func TestRunScriptReservedTaskName(t *testing.T) {
	t.Parallel()

	path, dir := writeManifest(t, `
project(name = "demo", version = "0.1")

def configure():
    task("clean", cmds = ["echo nope"])
`)

	_, _, _, err := RunScript(testContext(), path, dir, nil, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "reserved")
}

func TestRunScriptOptions(t *testing.T) {
	t.Parallel()

	path, dir := writeManifest(t, `
flavor = option("flavor", default = "plain", help = "build flavor")
project(name = "demo-" + flavor, version = "0.1")
`)

	_, options, proj, err := RunScript(testContext(), path, dir, map[string]string{"flavor": "spicy"}, true)
	require.NoError(t, err)
	require.Equal(t, "demo-spicy", proj.Name)

	opt, ok := options["flavor"]
	require.True(t, ok)
	require.Equal(t, "plain", opt.Default())
	require.Equal(t, "build flavor", opt.Help)
}
