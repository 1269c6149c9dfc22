package natsbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const duplicateWindow = 2 * time.Minute

// EnsureStream creates or updates a file-backed stream capturing every
// subject under subjectPrefix.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, subjectPrefix string) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{Subject(subjectPrefix, ">")},
		Storage:    jetstream.FileStorage,
		Duplicates: duplicateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream %s: %w", name, err)
	}
	return stream, nil
}
