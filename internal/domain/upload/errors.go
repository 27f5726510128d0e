package upload

import "errors"

var (
	ErrUploadNotFound = errors.New("upload not found")

	// ErrObjectMissing means confirm ran before the client finished the
	// PUT, or the PUT never happened.
	ErrObjectMissing = errors.New("uploaded object not found in storage")

	ErrUnsupportedContentType = errors.New("unsupported content type")

	ErrInternal = errors.New("internal error")
)
