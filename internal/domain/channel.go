package domain

import (
	"context"
	"io"
)

// ChatSender delivers a text message on a chat channel. Failures are
// reported through the returned flag and logged by the implementation.
type ChatSender interface {
	Send(ctx context.Context, to string, text string) bool
}

// EmailReply carries everything needed to answer an email in its thread.
type EmailReply struct {
	To           string
	Cc           string
	Subject      string
	ThreadRef    string
	InReplyTo    string
	References   []string
	OriginalBody string
	ResponseText string
}

// EmailReplier sends a reply in the original email thread.
type EmailReplier interface {
	Reply(ctx context.Context, reply EmailReply) error
}

// InboxRef points at one unread message in a polled inbox.
type InboxRef struct {
	ID       string
	ThreadID string
}

// Inbox is a polled mailbox.
type Inbox interface {
	ListUnread(ctx context.Context, max int64) ([]InboxRef, error)
	FetchRaw(ctx context.Context, id string) ([]byte, error)
	MarkRead(ctx context.Context, id string) error
}

// DriveSource lists and downloads files of a remote drive folder.
type DriveSource interface {
	List(ctx context.Context, folderID string) ([]RemoteFileRef, error)
	Download(ctx context.Context, remoteID string) (io.ReadCloser, error)
}
