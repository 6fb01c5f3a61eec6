package chat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyText rejects a send or edit whose text is blank.
	ErrEmptyText = errors.New("chat: empty text")
	// ErrUnchanged rejects an edit that keeps the current text.
	ErrUnchanged = errors.New("chat: text unchanged")
)

type requestOp string

const (
	opAdd    requestOp = "add"
	opUpdate requestOp = "update"
	opDelete requestOp = "delete"
)

// alert is the text shown to the user when the request fails.
func (op requestOp) alert() string {
	switch op {
	case opAdd:
		return "Failed to send message. Please try again."
	case opUpdate:
		return "Failed to update message. Please try again."
	default:
		return "Failed to delete message. Please try again."
	}
}

// RequestError is a failed store mutation issued by a widget.
type RequestError struct {
	Op  string
	ID  string
	Err error
}

func (e *RequestError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s message: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s message %s: %v", e.Op, e.ID, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// editText validates replacement text against the current text.
func editText(text, current string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if text == current {
		return "", ErrUnchanged
	}
	return text, nil
}
