package app

import "errors"

var (
	ErrGuestNotFound    = errors.New("guest not found")
	ErrImageNotFound    = errors.New("image not found or access denied")
	ErrImageURLRequired = errors.New("image_url is required")
)
