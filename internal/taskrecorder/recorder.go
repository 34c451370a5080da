// Package taskrecorder records the steps of a long-running task in order,
// producing a structured result suitable for support diagnostics. The final
// step's resolution decides whether the task as a whole succeeded.
package taskrecorder

import "fmt"

// Step is a single recorded step of a task. Once a step has failed it is
// immutable; further work always begins a new step.
type Step struct {
	Index         int
	Description   string
	Resolution    string
	Failed        bool
	ErrorCode     string
	Exception     error
	ExtraMessages []string
}

// Result is the completed record of a task run.
type Result struct {
	Succeeded  bool
	Steps      []Step
	Attributes map[string]string
}

// LastStep returns the final step of the run, or a zero Step for an empty log.
func (r Result) LastStep() Step {
	if len(r.Steps) == 0 {
		return Step{}
	}
	return r.Steps[len(r.Steps)-1]
}

// Describe renders a one-line summary of the final step, for log output.
func (r Result) Describe() string {
	if len(r.Steps) == 0 {
		return "no steps recorded"
	}
	step := r.LastStep()
	if step.Failed {
		return fmt.Sprintf("step %d failed (%s): %s", step.Index, step.ErrorCode, step.Resolution)
	}
	return fmt.Sprintf("step %d: %s", step.Index, step.Resolution)
}

// Recorder accumulates task steps. It is owned by a single task run and is
// not safe for concurrent use.
type Recorder struct {
	steps      []*Step
	attributes map[string]string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		attributes: make(map[string]string),
	}
}

// BeginNewStep appends a new step with the given description and makes it
// current. Steps are numbered from 1 in creation order.
func (r *Recorder) BeginNewStep(description string) *Step {
	step := &Step{
		Index:       len(r.steps) + 1,
		Description: description,
	}
	r.steps = append(r.steps, step)
	return step
}

// CurrentStep returns the most recently begun step, or nil if none exists.
func (r *Recorder) CurrentStep() *Step {
	if len(r.steps) == 0 {
		return nil
	}
	return r.steps[len(r.steps)-1]
}

func (r *Recorder) currentOrNew() *Step {
	if step := r.CurrentStep(); step != nil {
		return step
	}
	return r.BeginNewStep("...")
}

// CurrentStepSucceeded resolves the current step successfully. Calling this
// on a step that already failed has no effect.
func (r *Recorder) CurrentStepSucceeded(message string) {
	step := r.currentOrNew()
	if step.Failed {
		return
	}
	step.Resolution = message
}

// CurrentStepFailed resolves the current step as failed with a stable error
// code. A step that already failed is left untouched.
func (r *Recorder) CurrentStepFailed(message string, errorCode string, exception error, extraMessages ...string) {
	step := r.currentOrNew()
	if step.Failed {
		return
	}
	step.Failed = true
	step.Resolution = message
	step.ErrorCode = errorCode
	step.Exception = exception
	step.ExtraMessages = append(step.ExtraMessages, extraMessages...)
}

// CurrentStepFailedAppending behaves like CurrentStepFailed, except that if
// the current step already failed, the new message is appended to the
// existing failure rather than replacing it.
func (r *Recorder) CurrentStepFailedAppending(message string, errorCode string, exception error, extraMessages ...string) {
	step := r.currentOrNew()
	if step.Failed {
		step.ExtraMessages = append(step.ExtraMessages, message)
		step.ExtraMessages = append(step.ExtraMessages, extraMessages...)
		return
	}
	r.CurrentStepFailed(message, errorCode, exception, extraMessages...)
}

// AddAttribute attaches a free-form diagnostic attribute to the run.
func (r *Recorder) AddAttribute(name, value string) {
	r.attributes[name] = value
}

// AddAttributes attaches several attributes at once.
func (r *Recorder) AddAttributes(attributes map[string]string) {
	for name, value := range attributes {
		r.attributes[name] = value
	}
}

// StepCount returns the number of steps recorded so far.
func (r *Recorder) StepCount() int {
	return len(r.steps)
}

func (r *Recorder) snapshot(succeeded bool) Result {
	steps := make([]Step, len(r.steps))
	for i, step := range r.steps {
		steps[i] = *step
	}
	attributes := make(map[string]string, len(r.attributes))
	for name, value := range r.attributes {
		attributes[name] = value
	}
	return Result{
		Succeeded:  succeeded,
		Steps:      steps,
		Attributes: attributes,
	}
}

// FinishSuccess completes the run successfully.
func (r *Recorder) FinishSuccess() Result {
	return r.snapshot(true)
}

// FinishFailure completes the run as failed.
func (r *Recorder) FinishFailure() Result {
	return r.snapshot(false)
}

// Describe renders a one-line summary of the last step, for log output.
func (r *Recorder) Describe() string {
	step := r.CurrentStep()
	if step == nil {
		return "no steps recorded"
	}
	if step.Failed {
		return fmt.Sprintf("step %d failed (%s): %s", step.Index, step.ErrorCode, step.Resolution)
	}
	return fmt.Sprintf("step %d: %s", step.Index, step.Resolution)
}
