package application

import "fmt"

var (
	ErrAllocation       = fmt.Errorf("buffer allocation failed")
	ErrQueueFull        = fmt.Errorf("queue full")
	ErrConnection       = fmt.Errorf("connection error")
	ErrEnvelopeReleased = fmt.Errorf("envelope released")
	ErrInvalidTopic     = fmt.Errorf("invalid topic")
)
