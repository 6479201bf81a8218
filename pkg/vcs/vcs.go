// Package vcs wraps the few Git operations the release target needs: worktree
// state checks and annotated tags. Pushing stays a manual step.
package vcs

import (
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rotisserie/eris"
)

func openRepo(dir string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open repository at %s", dir)
	}

	return repo, nil
}

// RepoRoot returns the root of the repository containing dir.
func RepoRoot(dir string) (string, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return "", err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", eris.Wrap(err, "failed to get worktree")
	}

	return worktree.Filesystem.Root(), nil
}

// IsClean reports whether the worktree has no uncommitted changes.
func IsClean(dir string) (bool, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return false, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return false, eris.Wrap(err, "failed to get worktree")
	}

	status, err := worktree.Status()
	if err != nil {
		return false, eris.Wrap(err, "failed to read worktree status")
	}

	return status.IsClean(), nil
}

// CreateTag creates an annotated tag at HEAD. Existing tags are an error, a
// release must never silently move a tag.
func CreateTag(dir, name, message string) error {
	repo, err := openRepo(dir)
	if err != nil {
		return err
	}

	_, err = repo.Tag(name)
	if err == nil {
		return eris.Errorf("tag %s already exists", name)
	}
	if !eris.Is(err, gogit.ErrTagNotFound) {
		return eris.Wrapf(err, "failed to check for tag %s", name)
	}

	head, err := repo.Head()
	if err != nil {
		return eris.Wrap(err, "failed to resolve HEAD")
	}

	_, err = repo.CreateTag(name, head.Hash(), &gogit.CreateTagOptions{
		Message: message,
		Tagger:  tagger(repo),
	})
	if err != nil {
		return eris.Wrapf(err, "failed to create tag %s", name)
	}

	return nil
}

func tagger(repo *gogit.Repository) *object.Signature {
	signature := &object.Signature{
		Name:  "relmake",
		Email: "relmake@localhost",
		When:  time.Now(),
	}

	cfg, err := repo.ConfigScoped(gitconfig.GlobalScope)
	if err == nil && cfg.User.Name != "" {
		signature.Name = cfg.User.Name
		signature.Email = cfg.User.Email
	}

	return signature
}
