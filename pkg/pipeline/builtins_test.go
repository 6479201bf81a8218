package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runManifest executes a manifest that uses error() for its own assertions.
func runManifest(t *testing.T, content string) error {
	t.Helper()

	path, dir := writeManifest(t, content)
	_, _, _, err := RunScript(testContext(), path, dir, nil, true)
	return err
}

func TestExecuteBuiltin(t *testing.T) {
	t.Parallel()

	err := runManifest(t, `
project(name = "demo", version = "0.1")

output = execute("printf hi")
if output != "hi":
    error("unexpected output: " + output)
`)
	require.NoError(t, err)
}

func TestExecuteBuiltinFailure(t *testing.T) {
	t.Parallel()

	err := runManifest(t, `
project(name = "demo", version = "0.1")

if execute("false") != False:
    error("a failing command must return False")
`)
	require.NoError(t, err)
}

func TestExecuteBuiltinJSON(t *testing.T) {
	t.Parallel()

	err := runManifest(t, `
project(name = "demo", version = "0.1")

data = execute("printf '{\"counts\": [1, 2, 3]}'", format="json")
if data["counts"][1] != 2:
    error("unexpected decoded value")
`)
	require.NoError(t, err)
}

func TestExecuteBuiltinSession(t *testing.T) {
	t.Parallel()

	err := runManifest(t, `
project(name = "demo", version = "0.1")

execute("STATE=7", session=True)
output = execute("echo $STATE", session=True)
if output != "7":
    error("session state was lost: " + output)
`)
	require.NoError(t, err)
}

func TestEnvBuiltins(t *testing.T) {
	t.Parallel()

	err := runManifest(t, `
project(name = "demo", version = "0.1")

setenv("PIPELINE_FLAG", "on")
if getenv("PIPELINE_FLAG") != "on":
    error("setenv value not visible via getenv")
`)
	require.NoError(t, err)
}

func TestFileCheckBuiltins(t *testing.T) {
	t.Parallel()

	err := runManifest(t, `
project(name = "demo", version = "0.1")

if not isfile("pipeline.star"):
    error("the manifest itself should be a file")

if isdir("pipeline.star"):
    error("the manifest is not a directory")

if isfile("no-such-file"):
    error("missing files must not be reported")
`)
	require.NoError(t, err)
}

func TestReadYamlBuiltin(t *testing.T) {
	t.Parallel()

	path, dir := writeManifest(t, `
project(name = "demo", version = "0.1")

if read_yaml("meta.yml", "package.name", "missing") != "demo":
    error("failed to read package.name")

if read_yaml("meta.yml", "package.workers", 0) != 4:
    error("failed to read package.workers")

if read_yaml("meta.yml", "package.missing", "fallback") != "fallback":
    error("missing keys must return the default")
`)

	yamlContent := "package:\n  name: demo\n  workers: 4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.yml"), []byte(yamlContent), 0o644))

	_, _, _, err := RunScript(testContext(), path, dir, nil, true)
	require.NoError(t, err)
}

func TestReadYamlBuiltinCachesDocument(t *testing.T) {
	t.Parallel()

	path, dir := writeManifest(t, `
project(name = "demo", version = "0.1")

if read_yaml("meta.yml", "package.name", "x") != "demo":
    error("failed to read package.name")

execute("printf 'package:\n  name: changed\n' > meta.yml")

if read_yaml("meta.yml", "package.name", "x") != "demo":
    error("the parsed document was not cached")
`)

	yamlContent := "package:\n  name: demo\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.yml"), []byte(yamlContent), 0o644))

	_, _, _, err := RunScript(testContext(), path, dir, nil, true)
	require.NoError(t, err)
}

func TestErrorBuiltin(t *testing.T) {
	t.Parallel()

	err := runManifest(t, `
project(name = "demo", version = "0.1")
error("deliberate failure")
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "deliberate failure")
}

func TestProjectCalledTwice(t *testing.T) {
	t.Parallel()

	err := runManifest(t, `
project(name = "demo", version = "0.1")
project(name = "other", version = "0.2")
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already called")
}
