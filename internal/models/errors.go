package models

import "errors"

var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrEventNotFound   = errors.New("event not found")
	ErrVersionConflict = errors.New("ticket was modified concurrently")
)
