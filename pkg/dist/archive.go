package dist

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

// directories that never belong in a source archive
var skippedDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

type treeEntry struct {
	path string
	rel  string
	size int64
	mode os.FileMode
}

func collectTree(srcDir string, exclude []string) ([]treeEntry, int64, error) {
	entries := make([]treeEntry, 0)
	var total int64

	err := filepath.WalkDir(srcDir, func(item string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, item)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if skippedDirs[entry.Name()] {
				return filepath.SkipDir
			}
			for _, pattern := range exclude {
				if match, _ := path.Match(pattern, rel); match {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		for _, pattern := range exclude {
			if match, _ := path.Match(pattern, rel); match {
				return nil
			}
			if match, _ := path.Match(pattern, entry.Name()); match {
				return nil
			}
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		entries = append(entries, treeEntry{
			path: item,
			rel:  rel,
			size: info.Size(),
			mode: info.Mode(),
		})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, eris.Wrapf(err, "failed to scan %s", srcDir)
	}

	return entries, total, nil
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// BuildArchive packs srcDir into destPath using the given format (tar.gz, tar.xz or
// zip). All entries are placed below the prefix directory, the usual layout for
// source distributions. The exclude patterns are matched against the slash-separated
// path relative to srcDir and against plain file names.
func BuildArchive(ctx context.Context, srcDir, destPath, prefix, format string, exclude []string) (*Artifact, error) {
	entries, total, err := collectTree(srcDir, exclude)
	if err != nil {
		return nil, err
	}

	err = os.MkdirAll(filepath.Dir(destPath), 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create directory %s", filepath.Dir(destPath))
	}

	handle, err := os.Create(destPath)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", destPath)
	}
	defer handle.Close()

	bar := getProgressBar(total, "        pack")
	defer bar.Finish()

	switch format {
	case "tar.gz":
		writer := gzip.NewWriter(handle)
		err = writeTar(ctx, writer, bar, entries, prefix)
		if err == nil {
			err = writer.Close()
		}
	case "tar.xz":
		writer, xzErr := xz.NewWriter(handle)
		if xzErr != nil {
			return nil, eris.Wrap(xzErr, "failed to initialize xz writer")
		}
		err = writeTar(ctx, writer, bar, entries, prefix)
		if err == nil {
			err = writer.Close()
		}
	case "zip":
		err = writeZip(ctx, handle, bar, entries, prefix)
	default:
		return nil, eris.Errorf("unsupported archive format %s", format)
	}
	if err != nil {
		return nil, err
	}

	err = handle.Close()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to finish %s", destPath)
	}

	return finishArtifact(destPath)
}

// BuildDocsBundle packs the rendered documentation tree into a single
// brotli-compressed tar file.
func BuildDocsBundle(ctx context.Context, docsDir, destPath string) (*Artifact, error) {
	entries, total, err := collectTree(docsDir, nil)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, eris.Errorf("docs directory %s is empty", docsDir)
	}

	err = os.MkdirAll(filepath.Dir(destPath), 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create directory %s", filepath.Dir(destPath))
	}

	handle, err := os.Create(destPath)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", destPath)
	}
	defer handle.Close()

	bar := getProgressBar(total, "        docs")
	defer bar.Finish()

	writer := brotli.NewWriterLevel(handle, brotli.BestCompression)
	err = writeTar(ctx, writer, bar, entries, "")
	if err != nil {
		return nil, err
	}

	err = writer.Close()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to finish %s", destPath)
	}

	err = handle.Close()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to finish %s", destPath)
	}

	return finishArtifact(destPath)
}

func writeTar(ctx context.Context, out io.Writer, bar *progressbar.ProgressBar, entries []treeEntry, prefix string) error {
	archive := tar.NewWriter(out)
	buf := make([]byte, 4096)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := entry.rel
		if prefix != "" {
			name = prefix + "/" + name
		}

		err := archive.WriteHeader(&tar.Header{
			Name: name,
			Mode: int64(entry.mode.Perm()),
			Size: entry.size,
		})
		if err != nil {
			return eris.Wrapf(err, "failed to write header for %s", entry.rel)
		}

		err = copyEntry(archive, bar, entry, buf)
		if err != nil {
			return err
		}
	}

	err := archive.Close()
	if err != nil {
		return eris.Wrap(err, "failed to finish tar stream")
	}

	return nil
}

func writeZip(ctx context.Context, out io.Writer, bar *progressbar.ProgressBar, entries []treeEntry, prefix string) error {
	archive := zip.NewWriter(out)
	buf := make([]byte, 4096)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := entry.rel
		if prefix != "" {
			name = prefix + "/" + name
		}

		writer, err := archive.Create(name)
		if err != nil {
			return eris.Wrapf(err, "failed to create zip entry %s", entry.rel)
		}

		err = copyEntry(writer, bar, entry, buf)
		if err != nil {
			return err
		}
	}

	err := archive.Close()
	if err != nil {
		return eris.Wrap(err, "failed to finish zip archive")
	}

	return nil
}

func copyEntry(out io.Writer, bar *progressbar.ProgressBar, entry treeEntry, buf []byte) error {
	handle, err := os.Open(entry.path)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", entry.path)
	}
	defer handle.Close()

	_, err = io.CopyBuffer(io.MultiWriter(out, bar), handle, buf)
	if err != nil {
		return eris.Wrapf(err, "failed to pack %s", entry.rel)
	}

	return nil
}

func finishArtifact(destPath string) (*Artifact, error) {
	digest, size, err := fileDigest(destPath)
	if err != nil {
		return nil, err
	}

	artifact := &Artifact{
		Name:   filepath.Base(destPath),
		Path:   destPath,
		Size:   size,
		Sha256: digest,
	}

	err = artifact.WriteChecksum()
	if err != nil {
		return nil, err
	}

	return artifact, nil
}

// Kind guesses the upload category from the artifact name.
func (a *Artifact) Kind() string {
	if strings.HasSuffix(a.Name, "-docs.tar.br") {
		return "docs"
	}

	return "sdist"
}
