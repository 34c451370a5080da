package borrow

import (
	"net/http"
	"time"

	"github.com/openshelf/lending/internal/formats"
	"github.com/openshelf/lending/internal/profiles"
	"github.com/openshelf/lending/internal/registry"
)

// Requirements are the collaborators a borrow task needs. They are shared by
// all runs and must be safe for concurrent use.
type Requirements struct {
	Profiles      *profiles.Database
	Registry      *registry.BookRegistry
	FormatSupport formats.Support
	Subtasks      *SubtaskDirectory
	HTTPClient    *http.Client
	Clock         func() time.Time

	// TemporaryDirectory is where subtasks create scratch files.
	TemporaryDirectory string

	// SubtaskTimeout is advisory: the orchestrator places no timeout of its
	// own around subtask calls, but subtasks performing bounded round-trips
	// (e.g. DRM fulfilment) may consult it.
	SubtaskTimeout time.Duration
}

// withDefaults fills in the optional collaborators.
func (r Requirements) withDefaults() Requirements {
	if r.HTTPClient == nil {
		r.HTTPClient = http.DefaultClient
	}
	if r.Clock == nil {
		r.Clock = time.Now
	}
	if r.SubtaskTimeout <= 0 {
		r.SubtaskTimeout = 5 * time.Minute
	}
	return r
}
