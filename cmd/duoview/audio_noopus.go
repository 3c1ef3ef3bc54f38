//go:build !opus

package main

import "github.com/zsiec/duoview/internal/audio"

var opusDecoder audio.DecoderFactory
