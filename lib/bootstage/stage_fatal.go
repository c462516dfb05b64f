package bootstage

import "fmt"

// StageFatalError marks spec.md §7 error kind 4: a failure severe enough
// that the stage cannot continue. The stage that constructs one has
// already created UNBLOCKFILE before returning it; callers never need to
// do so themselves, and nothing above a stage boundary should treat this
// as anything but "the stage gave up, boot already unblocked."
type StageFatalError struct {
	Stage string
	Err   error
}

func (e *StageFatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageFatalError) Unwrap() error { return e.Err }
