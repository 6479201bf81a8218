package dist

import (
	"context"
	"os"

	"github.com/google/go-github/v62/github"
	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
)

func githubToken() (string, error) {
	for _, name := range []string{"RELMAKE_GITHUB_TOKEN", "GITHUB_TOKEN"} {
		if token := os.Getenv(name); token != "" {
			return token, nil
		}
	}

	return "", eris.New("no GitHub token found, set RELMAKE_GITHUB_TOKEN or GITHUB_TOKEN")
}

// PublishGitHub creates a draft release for the given tag and attaches the
// artifacts as release assets. The release stays a draft so the operator can
// review it before it goes public.
func PublishGitHub(ctx context.Context, owner, repo, tag string, artifacts []*Artifact) error {
	token, err := githubToken()
	if err != nil {
		return err
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, source))

	release, _, err := client.Repositories.CreateRelease(ctx, owner, repo, &github.RepositoryRelease{
		TagName: github.String(tag),
		Name:    github.String(tag),
		Draft:   github.Bool(true),
	})
	if err != nil {
		return eris.Wrapf(err, "failed to create release %s on %s/%s", tag, owner, repo)
	}

	for _, artifact := range artifacts {
		handle, err := os.Open(artifact.Path)
		if err != nil {
			return eris.Wrapf(err, "failed to open %s", artifact.Path)
		}

		_, _, err = client.Repositories.UploadReleaseAsset(ctx, owner, repo, release.GetID(), &github.UploadOptions{
			Name: artifact.Name,
		}, handle)
		handle.Close()
		if err != nil {
			return eris.Wrapf(err, "failed to attach %s to release %s", artifact.Name, tag)
		}
	}

	return nil
}
