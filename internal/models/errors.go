package models

import "errors"

// Error taxonomy shared by the thumbnail engine and the batch runner.
// Callers wrap these with fmt.Errorf("...: %w", ...) and match with errors.Is.
var (
	// ErrUnsupportedFormat means the file extension has no codec mapping.
	ErrUnsupportedFormat = errors.New("format not supported")
	// ErrDecodeFailure means the image bytes could not be decoded.
	ErrDecodeFailure = errors.New("failed to decode image")
	// ErrIOFailure means a file or network access failed.
	ErrIOFailure = errors.New("i/o failure")
	// ErrInvalidArgument means malformed input such as zero dimensions or a bad buffer length.
	ErrInvalidArgument = errors.New("invalid argument")
)
