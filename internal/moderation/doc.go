// Package moderation implements the worker that screens a freshly uploaded
// video before it is published.
//
// The worker waits for the raw object to become visible, samples frames at a
// fixed interval, and scores them one at a time through the classifier. It
// stops at the first frame whose score pushes the running maximum past the
// threshold, deletes the raw upload, and marks the record blocked. Otherwise
// the record moves to moderation_passed. Any failure lands the record in
// moderation_failed with the highest score seen so far, and the error is
// returned so the dispatcher can surface it.
package moderation
