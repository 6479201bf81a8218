package dist

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// IndexClient talks to a package index over plain HTTP. The protocol is the
// classic two-step flow: one register call for the release metadata followed
// by one upload per distribution file.
type IndexClient struct {
	baseURL string
	client  *http.Client
}

func NewIndexClient(baseURL string) *IndexClient {
	return &IndexClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: time.Minute * 30,
		},
	}
}

// Register announces the release to the index before any file is uploaded.
func (c *IndexClient) Register(ctx context.Context, name, version string) error {
	form := url.Values{}
	form.Set("action", "register")
	form.Set("name", name)
	form.Set("version", version)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "failed to build register request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "failed to register %s %s", name, version)
	}
	defer resp.Body.Close()

	return checkResponse(resp, "register")
}

// Upload sends one artifact to the index. The sha256 digest travels with the
// file so the index can verify the transfer.
func (c *IndexClient) Upload(ctx context.Context, name, version string, artifact *Artifact) error {
	handle, err := os.Open(artifact.Path)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", artifact.Path)
	}
	defer handle.Close()

	bar := getProgressBar(artifact.Size, "      upload")
	defer bar.Finish()

	reader, writer := io.Pipe()
	form := multipart.NewWriter(writer)

	go func() {
		err := writeUploadForm(form, name, version, artifact, io.TeeReader(handle, bar))
		if err != nil {
			writer.CloseWithError(err)
			return
		}

		writer.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, reader)
	if err != nil {
		return eris.Wrap(err, "failed to build upload request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "failed to upload %s", artifact.Name)
	}
	defer resp.Body.Close()

	return checkResponse(resp, "upload of "+artifact.Name)
}

func writeUploadForm(form *multipart.Writer, name, version string, artifact *Artifact, content io.Reader) error {
	fields := map[string]string{
		"action":        "upload",
		"name":          name,
		"version":       version,
		"kind":          artifact.Kind(),
		"sha256_digest": artifact.Sha256,
	}

	for field, value := range fields {
		err := form.WriteField(field, value)
		if err != nil {
			return eris.Wrapf(err, "failed to write form field %s", field)
		}
	}

	part, err := form.CreateFormFile("content", artifact.Name)
	if err != nil {
		return eris.Wrap(err, "failed to create form file")
	}

	_, err = io.Copy(part, content)
	if err != nil {
		return eris.Wrapf(err, "failed to stream %s", artifact.Name)
	}

	return nil
}

func checkResponse(resp *http.Response, action string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return eris.Errorf("%s failed: index returned %s: %s", action, resp.Status, strings.TrimSpace(string(body)))
}
