// Package ffmpeg is a software decoder backend built on libavcodec through
// go-astiav. It is compiled only with the ffmpeg build tag, since it needs
// the FFmpeg development libraries at link time.
package ffmpeg
