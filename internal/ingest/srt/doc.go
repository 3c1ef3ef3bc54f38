// Package srt receives MPEG-TS over SRT. A Server accepts a publisher in
// listener mode; Pull dials a remote listener in caller mode. Both feed the
// ingest registry.
package srt
