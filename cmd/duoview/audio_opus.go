//go:build opus

package main

import (
	"github.com/zsiec/duoview/internal/audio"
	"github.com/zsiec/duoview/internal/audio/opus"
)

var opusDecoder audio.DecoderFactory = opus.New
