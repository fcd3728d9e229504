// Package media drives the ffmpeg binary for the two workers: sampling still
// frames for moderation and packaging HLS renditions for playback.
//
// Argument lists are assembled with ffmpeg-go so that option ordering stays
// stable, then executed through commandContext so tests can substitute a
// helper process.
package media
