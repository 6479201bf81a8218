package dist

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o770))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func readTarEntries(t *testing.T, reader io.Reader) map[string]string {
	t.Helper()

	entries := map[string]string{}
	archive := tar.NewReader(reader)
	for {
		header, err := archive.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		content, err := io.ReadAll(archive)
		require.NoError(t, err)
		entries[header.Name] = string(content)
	}

	return entries
}

func TestBuildArchiveTarGz(t *testing.T) {
	t.Setenv("CI", "true")

	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{
		"README.md":       "hello",
		"pkg/mod.py":      "pass",
		".git/config":     "ignored",
		"dist/old.tar.gz": "stale",
	})

	destPath := filepath.Join(t.TempDir(), "demo-1.0.tar.gz")
	artifact, err := BuildArchive(context.Background(), srcDir, destPath, "demo-1.0", "tar.gz", []string{"dist", "dist/*"})
	require.NoError(t, err)

	require.Equal(t, "demo-1.0.tar.gz", artifact.Name)
	require.Equal(t, destPath, artifact.Path)
	require.Len(t, artifact.Sha256, 64)

	info, err := os.Stat(destPath)
	require.NoError(t, err)
	require.Equal(t, info.Size(), artifact.Size)

	handle, err := os.Open(destPath)
	require.NoError(t, err)
	defer handle.Close()

	unzip, err := gzip.NewReader(handle)
	require.NoError(t, err)

	entries := readTarEntries(t, unzip)
	require.Equal(t, map[string]string{
		"demo-1.0/README.md":  "hello",
		"demo-1.0/pkg/mod.py": "pass",
	}, entries)
}

func TestBuildArchiveTarXz(t *testing.T) {
	t.Setenv("CI", "true")

	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{"setup.py": "from setuptools import setup"})

	destPath := filepath.Join(t.TempDir(), "demo-1.0.tar.xz")
	_, err := BuildArchive(context.Background(), srcDir, destPath, "demo-1.0", "tar.xz", nil)
	require.NoError(t, err)

	handle, err := os.Open(destPath)
	require.NoError(t, err)
	defer handle.Close()

	unxz, err := xz.NewReader(handle)
	require.NoError(t, err)

	entries := readTarEntries(t, unxz)
	require.Equal(t, map[string]string{"demo-1.0/setup.py": "from setuptools import setup"}, entries)
}

func TestBuildArchiveZip(t *testing.T) {
	t.Setenv("CI", "true")

	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{
		"setup.py":      "from setuptools import setup",
		"demo/core.pyc": "stale",
	})

	destPath := filepath.Join(t.TempDir(), "demo-1.0.zip")
	_, err := BuildArchive(context.Background(), srcDir, destPath, "demo-1.0", "zip", []string{"*.pyc"})
	require.NoError(t, err)

	archive, err := zip.OpenReader(destPath)
	require.NoError(t, err)
	defer archive.Close()

	require.Len(t, archive.File, 1)
	require.Equal(t, "demo-1.0/setup.py", archive.File[0].Name)

	entry, err := archive.File[0].Open()
	require.NoError(t, err)
	defer entry.Close()

	content, err := io.ReadAll(entry)
	require.NoError(t, err)
	require.Equal(t, "from setuptools import setup", string(content))
}

func TestBuildArchiveUnsupportedFormat(t *testing.T) {
	t.Setenv("CI", "true")

	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{"setup.py": "x"})

	_, err := BuildArchive(context.Background(), srcDir, filepath.Join(t.TempDir(), "demo.rar"), "demo", "rar", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported archive format")
}

func TestBuildArchiveChecksumFile(t *testing.T) {
	t.Setenv("CI", "true")

	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{"setup.py": "x"})

	destPath := filepath.Join(t.TempDir(), "demo-1.0.tar.gz")
	artifact, err := BuildArchive(context.Background(), srcDir, destPath, "demo-1.0", "tar.gz", nil)
	require.NoError(t, err)

	content, err := os.ReadFile(destPath + ".sha256")
	require.NoError(t, err)
	require.Equal(t, artifact.Sha256+"  demo-1.0.tar.gz\n", string(content))

	digest, size, err := fileDigest(destPath)
	require.NoError(t, err)
	require.Equal(t, artifact.Sha256, digest)
	require.Equal(t, artifact.Size, size)
}

func TestBuildDocsBundle(t *testing.T) {
	t.Setenv("CI", "true")

	docsDir := t.TempDir()
	writeTree(t, docsDir, map[string]string{
		"index.html":     "<html></html>",
		"api/index.html": "<html>api</html>",
	})

	destPath := filepath.Join(t.TempDir(), "demo-1.0-docs.tar.br")
	artifact, err := BuildDocsBundle(context.Background(), docsDir, destPath)
	require.NoError(t, err)
	require.Equal(t, "docs", artifact.Kind())

	handle, err := os.Open(destPath)
	require.NoError(t, err)
	defer handle.Close()

	entries := readTarEntries(t, brotli.NewReader(handle))
	require.Equal(t, map[string]string{
		"index.html":     "<html></html>",
		"api/index.html": "<html>api</html>",
	}, entries)
}

func TestBuildDocsBundleEmptyDir(t *testing.T) {
	t.Setenv("CI", "true")

	_, err := BuildDocsBundle(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "demo-docs.tar.br"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "is empty")
}

func TestArtifactKind(t *testing.T) {
	t.Parallel()

	require.Equal(t, "sdist", (&Artifact{Name: "demo-1.0.tar.gz"}).Kind())
	require.Equal(t, "sdist", (&Artifact{Name: "demo-1.0.zip"}).Kind())
	require.Equal(t, "docs", (&Artifact{Name: "demo-1.0-docs.tar.br"}).Kind())
}
