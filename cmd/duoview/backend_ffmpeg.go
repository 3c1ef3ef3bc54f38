//go:build ffmpeg

package main

import (
	"github.com/zsiec/duoview/internal/decoder"
	"github.com/zsiec/duoview/internal/decoder/ffmpeg"
)

const defaultDecoder = "ffmpeg"

func newFFmpeg(threads int) (decoder.Backend, error) {
	return ffmpeg.New(threads), nil
}
