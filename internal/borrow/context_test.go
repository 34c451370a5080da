package borrow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/lending/internal/formats"
	"github.com/openshelf/lending/internal/opds"
	"github.com/openshelf/lending/internal/taskrecorder"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	h := newTestHarness(t)
	task := NewBorrowTask(h.requirements, testRequest("urn:book:ctx"))
	return &Context{
		Recorder:           taskrecorder.NewRecorder(),
		task:               task,
		bookRegistry:       h.registry,
		temporaryDirectory: filepath.Join(t.TempDir(), "scratch"),
		cancelled:          &task.cancelled,
		bookIDBrief:        task.bookIDBrief,
	}
}

func TestCurrentLinkPrefersOverride(t *testing.T) {
	ctx := newTestContext(t)
	ctx.currentElement = opds.PathElement{
		ContentType: formats.GenericEPUB,
		Target:      &opds.Link{Href: "https://example.com/original.epub"},
	}

	require.NotNil(t, ctx.CurrentLink())
	assert.Equal(t, "https://example.com/original.epub", ctx.CurrentLink().Href)

	ctx.ReceivedNewURI(opds.Link{Href: "https://example.com/override.epub"})
	assert.Equal(t, "https://example.com/override.epub", ctx.CurrentLink().Href)
}

func TestCurrentURIRequiredFailsWithoutLink(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Recorder.BeginNewStep("fetching")

	_, err := ctx.CurrentURIRequired()
	assert.ErrorIs(t, err, ErrSubtaskFailed)

	step := ctx.Recorder.CurrentStep()
	assert.True(t, step.Failed)
	assert.Equal(t, CodeRequiredURIMissing, step.ErrorCode)
}

func TestCurrentURIRequiredRejectsRelativeLinks(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Recorder.BeginNewStep("fetching")
	ctx.currentElement = opds.PathElement{
		ContentType: formats.GenericEPUB,
		Target:      &opds.Link{Href: "/relative/book.epub"},
	}

	_, err := ctx.CurrentURIRequired()
	assert.ErrorIs(t, err, ErrSubtaskFailed)
	assert.Equal(t, CodeRequiredURIMissing, ctx.Recorder.CurrentStep().ErrorCode)
}

func TestChooseNewAcquisitionPathReplacesRemaining(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Recorder.BeginNewStep("re-planning")

	// Stale remaining queue from the original plan.
	ctx.remaining = []opds.PathElement{{ContentType: formats.AdobeACSMFile}}

	entry := epubEntry("urn:book:ctx")
	link, err := ctx.ChooseNewAcquisitionPath(entry)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/book.epub", link.Href)

	// The remaining queue is the full element list of the new path: the
	// currently executing element belongs to the abandoned plan.
	require.Len(t, ctx.RemainingPathElements(), 1)
	assert.Equal(t, formats.GenericEPUB, ctx.RemainingPathElements()[0].ContentType)
}

func TestChooseNewAcquisitionPathNoUsableOption(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Recorder.BeginNewStep("re-planning")

	entry := opds.FeedEntry{ID: "urn:book:ctx"} // no acquisitions at all
	_, err := ctx.ChooseNewAcquisitionPath(entry)
	assert.ErrorIs(t, err, ErrSubtaskFailed)
	assert.Equal(t, CodeNoSupportedAcquisitions, ctx.Recorder.CurrentStep().ErrorCode)
}

func TestCheckCancelled(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Recorder.BeginNewStep("working")

	assert.NoError(t, ctx.CheckCancelled())
	assert.False(t, ctx.IsCancelled())

	ctx.task.Cancel()
	err := ctx.CheckCancelled()
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, "Task was cancelled.", ctx.Recorder.CurrentStep().Resolution)
}

func TestTemporaryFile(t *testing.T) {
	ctx := newTestContext(t)

	first, err := ctx.TemporaryFile("epub")
	require.NoError(t, err)
	assert.Equal(t, ".epub", filepath.Ext(first))

	second, err := ctx.TemporaryFile("epub")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// The directory is created on demand.
	info, err := os.Stat(filepath.Dir(first))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
