package domain

import "errors"

var (
	// ErrMalformedPayload: inbound shape unexpected. Acknowledge, do not relay.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrNotATextMessage: well-formed inbound event that carries no text.
	ErrNotATextMessage = errors.New("not a text message")
	// ErrNotPersonalMessage: email classified as automated. Mark read, do not relay.
	ErrNotPersonalMessage = errors.New("not a personal message")
	// ErrProviderFault: the answer provider failed or timed out.
	ErrProviderFault = errors.New("answer provider fault")
	// ErrSendFault: channel delivery failed.
	ErrSendFault = errors.New("channel send fault")
	// ErrSyncFault: one file's download or upload failed.
	ErrSyncFault = errors.New("sync fault")
	// ErrProcessingTimeout: a remote file never reached the processed state.
	ErrProcessingTimeout = errors.New("processing timeout")
	// ErrConfig: a mandatory setting is missing or invalid.
	ErrConfig = errors.New("configuration error")
)
