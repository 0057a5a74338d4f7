// Package audio describes raw PCM stream formats and materializes PCM
// buffers as standard RIFF/WAVE files for the extraction tool.
package audio
