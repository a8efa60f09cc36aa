package domain

import "context"

// AnswerProvider is the external document-QA service the relay forwards
// user text to. Query is synchronous text-in/text-out and may fail.
type AnswerProvider interface {
	Name() string
	Query(ctx context.Context, text string) (string, error)
}

// HealthChecker is implemented by providers that can report reachability.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// DirectoryProvider resolves a corpus directory by name, creating it when it
// does not exist yet. Ensure is idempotent.
type DirectoryProvider interface {
	Ensure(ctx context.Context, name string) (string, error)
}

// CorpusUploader pushes a local file into the answer provider's corpus and
// returns the remote file id.
type CorpusUploader interface {
	Upload(ctx context.Context, localPath, name, directory string) (string, error)
}
