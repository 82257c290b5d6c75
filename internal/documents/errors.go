package documents

import "errors"

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotPDF       = errors.New("document must be a PDF")
	ErrAttached     = errors.New("document already attached to an envelope")
)
