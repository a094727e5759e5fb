package hub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
)

// UploadField is the multipart form field the function reads the file from.
const UploadField = "file"

// ListFiles calls GET on the function endpoint. The body carries the
// listing ({ok, count, data}) or {ok:false, error}.
func (c *Client) ListFiles(ctx context.Context) (*Envelope, error) {
	return c.callFunction(ctx, http.MethodGet, nil, "")
}

// UploadFile streams r to the function endpoint as a multipart POST with a
// single part under UploadField. The body describes the created file.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (*Envelope, error) {
	c.logger.Info("uploading file",
		slog.String("name", name),
		slog.String("url", c.FunctionURL()),
	)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	written := make(chan struct{})

	go func() {
		defer close(written)
		pw.CloseWithError(writeMultipart(mw, name, r))
	}()

	env, err := c.callFunction(ctx, http.MethodPost, pr, mw.FormDataContentType())

	// Unblock the writer if the request ended before reading the whole body,
	// and wait for it: the caller closes r once we return.
	pr.Close()
	<-written

	if err != nil {
		return nil, err
	}

	return env, nil
}

// writeMultipart copies r into a single file part and closes the writer.
func writeMultipart(mw *multipart.Writer, name string, r io.Reader) error {
	part, err := mw.CreateFormFile(UploadField, name)
	if err != nil {
		return fmt.Errorf("hub: creating form part: %w", err)
	}

	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("hub: writing form part: %w", err)
	}

	return mw.Close()
}
