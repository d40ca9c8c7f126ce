//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package chat

import (
	"fmt"
	"strings"
)

// FormatHistory renders the history as one "<role>: <content>" line per
// message, in conversational order. An empty history renders as "".
func FormatHistory(history []Message) string {
	if len(history) == 0 {
		return ""
	}

	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = string(m.Role) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

// SplitCurrent separates the current message (the last one submitted) from
// the history that precedes it. The returned history never contains the
// current message and shares no backing array with messages.
func SplitCurrent(messages []Message) (Message, []Message, error) {
	if len(messages) == 0 {
		return Message{}, nil, fmt.Errorf("%w: no messages", ErrInvalidMessage)
	}

	for i, m := range messages {
		if err := m.Validate(); err != nil {
			return Message{}, nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
	}

	last := len(messages) - 1
	history := make([]Message, last)
	copy(history, messages[:last])

	return messages[last], history, nil
}

// ResolveRequest derives the current question and its history from a
// question string and a submitted message list. When messages are present
// the last one is the current message and is stripped from the history; a
// non-empty question overrides its text. A request with neither is invalid.
func ResolveRequest(question string, messages []Message) (string, []Message, error) {
	question = strings.TrimSpace(question)

	if len(messages) == 0 {
		if question == "" {
			return "", nil, fmt.Errorf("%w: question is required", ErrInvalidMessage)
		}
		return question, nil, nil
	}

	current, history, err := SplitCurrent(messages)
	if err != nil {
		return "", nil, err
	}

	if question == "" {
		question = strings.TrimSpace(current.Content)
	}
	if question == "" {
		return "", nil, fmt.Errorf("%w: current message is empty", ErrInvalidMessage)
	}

	return question, history, nil
}
