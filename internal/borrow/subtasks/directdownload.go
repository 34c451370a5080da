package subtasks

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/openshelf/lending/internal/borrow"
	"github.com/openshelf/lending/internal/formats"
	"github.com/openshelf/lending/internal/opds"
	"github.com/openshelf/lending/internal/profiles"
)

// DirectDownload fetches a book file over plain HTTP and installs it into the
// book database. It handles the SAML wrinkle where a download URI bounces to
// an HTML login page: the run halts and waits for the external authentication
// flow to complete instead of failing.
type DirectDownload struct{}

type directDownloadFactory struct{}

// DirectDownloadFactory returns the factory for DirectDownload subtasks.
func DirectDownloadFactory() borrow.SubtaskFactory {
	return directDownloadFactory{}
}

func (directDownloadFactory) Name() string {
	return "Direct HTTP Download"
}

func (directDownloadFactory) CreateSubtask() borrow.Subtask {
	return DirectDownload{}
}

func (directDownloadFactory) IsApplicableFor(contentType string, _ *opds.Link, _ *profiles.Account, _ []string) bool {
	return opds.ContentTypesEqual(contentType, formats.GenericEPUB) ||
		opds.ContentTypesEqual(contentType, formats.GenericPDF) ||
		opds.ContentTypesEqual(contentType, formats.GenericAudioBook)
}

func (s DirectDownload) Execute(ctx *borrow.Context) error {
	ctx.Recorder.BeginNewStep("Downloading directly...")
	ctx.BookDownloadIsRunning("Requesting download...", nil, nil, nil)

	err := downloadAndSave(ctx)
	if err != nil && errors.Is(err, borrow.ErrSubtaskFailed) {
		ctx.BookDownloadFailed()
	}
	return err
}

// downloadAndSave performs the actual transfer. It is shared by every subtask
// that ends with a plain file landing in the book database.
func downloadAndSave(ctx *borrow.Context) error {
	currentURI, err := ctx.CurrentURIRequired()
	if err != nil {
		return err
	}
	currentURI = samlAdjustedURI(ctx, currentURI)

	ctx.Recorder.BeginNewStep(fmt.Sprintf("Downloading %s...", currentURI))
	ctx.Recorder.AddAttribute("Download URI", currentURI.String())
	if err := ctx.CheckCancelled(); err != nil {
		return err
	}

	request, err := http.NewRequest(http.MethodGet, currentURI.String(), nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	applyCredentials(request, ctx.Account)

	response, err := ctx.HTTPClient.Do(request)
	if err != nil {
		ctx.Recorder.CurrentStepFailed(err.Error(), borrow.CodeHTTPConnectionFailed, err)
		return borrow.ErrSubtaskFailed
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		recordHTTPError(ctx, response)
		return borrow.ErrSubtaskFailed
	}

	expectedType := ctx.CurrentAcquisitionPathElement().ContentType
	receivedType := response.Header.Get("Content-Type")
	if !opds.ContentTypeAcceptable(expectedType, receivedType) {
		// An HTML page in place of a book almost always means a SAML
		// login wall. Halt and wait for the user to authenticate in a
		// browser; the borrow is retried with the auth-complete URI.
		if isHTML(receivedType) && !samlAuthAlreadyCompleted(ctx) {
			ctx.LogDebug("received HTML instead of %s, waiting for external authentication", expectedType)
			ctx.BookDownloadIsWaitingForExternalAuthentication()
			return borrow.ErrHaltedEarly
		}
		ctx.Recorder.CurrentStepFailed(
			fmt.Sprintf("The server returned an incompatible content type: we wanted something compatible with %s but received %s.",
				expectedType, receivedType),
			borrow.CodeHTTPContentTypeIncompatible, nil)
		return borrow.ErrSubtaskFailed
	}

	file, err := ctx.TemporaryFile("data")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	defer os.Remove(file)

	if err := transfer(ctx, response, file); err != nil {
		return err
	}
	return saveDownloadedFile(ctx, file, expectedType)
}

// samlAdjustedURI substitutes the post-authentication download URI when the
// external SAML login already completed for the URI we were about to fetch.
func samlAdjustedURI(ctx *borrow.Context, currentURI *url.URL) *url.URL {
	saml := ctx.SAMLDownloadContext
	if saml == nil || !saml.IsAuthComplete {
		return currentURI
	}
	if saml.DownloadURI != currentURI.String() || saml.AuthCompleteDownloadURI == "" {
		return currentURI
	}
	adjusted, err := url.Parse(saml.AuthCompleteDownloadURI)
	if err != nil {
		ctx.LogWarn("ignoring unparseable auth-complete URI: %v", err)
		return currentURI
	}
	ctx.LogDebug("using auth-complete download URI")
	return adjusted
}

func samlAuthAlreadyCompleted(ctx *borrow.Context) bool {
	return ctx.SAMLDownloadContext != nil && ctx.SAMLDownloadContext.IsAuthComplete
}

// transfer copies the response body to the destination file in chunks,
// checking for cancellation and publishing progress as it goes.
func transfer(ctx *borrow.Context, response *http.Response, destination string) error {
	output, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("open destination file: %w", err)
	}
	defer output.Close()

	var expectedBytes *int64
	if response.ContentLength >= 0 {
		length := response.ContentLength
		expectedBytes = &length
	}

	var received int64
	started := ctx.Clock()
	lastPublished := started
	buffer := make([]byte, 64*1024)
	for {
		if err := ctx.CheckCancelled(); err != nil {
			return err
		}
		n, readErr := response.Body.Read(buffer)
		if n > 0 {
			if _, err := output.Write(buffer[:n]); err != nil {
				return fmt.Errorf("write downloaded data: %w", err)
			}
			received += int64(n)
		}
		now := ctx.Clock()
		if now.Sub(lastPublished) >= time.Second {
			lastPublished = now
			perSecond := bytesPerSecond(received, now.Sub(started))
			receivedCopy := received
			ctx.BookDownloadIsRunning("Downloading...", &receivedCopy, expectedBytes, perSecond)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			ctx.Recorder.CurrentStepFailed(readErr.Error(), borrow.CodeHTTPConnectionFailed, readErr)
			return borrow.ErrSubtaskFailed
		}
	}

	if err := output.Sync(); err != nil {
		return fmt.Errorf("flush downloaded data: %w", err)
	}
	ctx.Recorder.CurrentStepSucceeded(fmt.Sprintf("Downloaded %d bytes.", received))
	return nil
}

func bytesPerSecond(received int64, elapsed time.Duration) *int64 {
	if elapsed <= 0 {
		return nil
	}
	rate := int64(float64(received) / elapsed.Seconds())
	return &rate
}

// saveDownloadedFile moves the temporary file into the book database and
// publishes the settled status.
func saveDownloadedFile(ctx *borrow.Context, file, contentType string) error {
	ctx.Recorder.BeginNewStep("Saving book...")
	if err := ctx.DatabaseEntry.CopyInBook(file, contentType); err != nil {
		ctx.Recorder.CurrentStepFailed(
			fmt.Sprintf("Failed to save the book (%v).", err), borrow.CodeBookDatabaseFailed, err)
		return borrow.ErrSubtaskFailed
	}
	ctx.Recorder.CurrentStepSucceeded("Saved book.")
	ctx.BookDownloadSucceeded()
	return nil
}
