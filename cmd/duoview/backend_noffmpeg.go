//go:build !ffmpeg

package main

import (
	"errors"

	"github.com/zsiec/duoview/internal/decoder"
)

const defaultDecoder = "reference"

func newFFmpeg(int) (decoder.Backend, error) {
	return nil, errors.New("built without the ffmpeg tag")
}
