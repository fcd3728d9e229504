// Package video defines the video record shared by the moderation and
// transcode workers and the events that trigger them.
//
// Status is a closed enum. Record writes are expressed as Patch values that
// only this package can construct: each worker phase has its own constructors
// (Blocked, ModerationPassed, ModerationFailed for moderation; Processed and
// TranscodeFailed for transcoding), so a worker cannot write another phase's
// status or fields. Every patch also names the statuses it may be applied
// from, which record stores enforce as a compare-and-set precondition to keep
// transitions monotonic.
package video
