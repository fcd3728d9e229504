// Package transcode implements the worker that turns a raw upload into a
// published HLS rendition set.
//
// Renditions are encoded one at a time in ladder order. The whole tree is
// verified locally, uploaded with segments first and the master playlist
// last, and only then is the record marked processed. A failure at any step
// removes whatever was already uploaded so clients never see a partial set.
package transcode
