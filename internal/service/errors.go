package service

import "errors"

// Sentinel errors surfaced to handlers. Broadcast failures never appear
// here: once a message is persisted, delivery faults are logged and clients
// reconcile through pagination.
var (
	// ErrNotAMember rejects operations on conversations the caller does not
	// belong to.
	ErrNotAMember = errors.New("user is not a member of the conversation")

	// ErrRecallNotSender rejects recall attempts by anyone but the original
	// sender.
	ErrRecallNotSender = errors.New("only the original sender may recall a message")

	// ErrEmptyMessage rejects sends whose text is empty after sanitization
	// and that carry no attachments.
	ErrEmptyMessage = errors.New("message content empty after sanitization")

	// ErrDirectPeerRequired rejects direct conversation creation without
	// exactly one distinct peer.
	ErrDirectPeerRequired = errors.New("direct conversations require exactly one peer")

	// ErrEmojiRequired rejects reaction upserts without an emoji.
	ErrEmojiRequired = errors.New("emoji is required")
)
