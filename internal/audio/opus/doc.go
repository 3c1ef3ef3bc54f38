// Package opus provides the libopus audio decoder when built with the
// opus tag.
package opus
