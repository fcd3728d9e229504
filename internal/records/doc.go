// Package records persists video records.
//
// Every backend applies a video.Patch as a single compare-and-set: the write
// only lands when the record's current status is one the patch allows, so
// the moderation and transcode workers can race on the same record without a
// lock and neither can move a record backwards. A rejected precondition
// surfaces as ErrTransitionRejected.
//
// SQLite is the default backend; PostgreSQL, MongoDB, and Firestore are
// selected through the [records] configuration section.
package records
