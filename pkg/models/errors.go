package models

import "errors"

// Sentinel errors for pipeline operations.
var (
	// Upload session errors
	ErrSessionConflict = errors.New("upload session already exists")
	ErrSessionNotFound = errors.New("upload session not found")
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	ErrChunkTooLarge   = errors.New("chunk exceeds nominal chunk size")
	ErrIncomplete      = errors.New("upload session incomplete")

	// Job errors
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidState = errors.New("operation not valid in current job state")
	ErrCancelled    = errors.New("job cancelled")

	// Processing errors
	ErrUnprobeableSource = errors.New("source file could not be probed")
	ErrEncoderFailed     = errors.New("encoder execution failed")
	ErrEncoderTimeout    = errors.New("encoder exceeded deadline")
	ErrUploadFailed      = errors.New("failed to upload artifacts")
	ErrPublishFailed     = errors.New("failed to publish video metadata")

	// Validation errors for uploads
	ErrInvalidFileType = errors.New("invalid file type")
	ErrFilenameTooLong = errors.New("filename too long")

	// Storage errors
	ErrVideoNotFound = errors.New("video not found")
)
