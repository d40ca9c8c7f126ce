//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package chat defines conversation messages and renders chat history for
// prompting.
package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

// Supported message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ErrInvalidMessage is returned when a message or message list cannot be
// used as a conversation.
var ErrInvalidMessage = errors.New("invalid chat message")

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage creates a message, normalising the role to lower case.
func NewMessage(role, content string) (Message, error) {
	m := Message{
		Role:    Role(strings.ToLower(strings.TrimSpace(role))),
		Content: content,
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks that the message has a known role.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	return nil
}
