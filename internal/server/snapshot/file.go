package snapshot

import (
	"context"
	"os"

	"profkeeper/internal/filex"
)

// FileSink stores the snapshot in a single local file, replaced atomically
// on every Put. It is also the sink the store loads from at startup.
type FileSink struct {
	path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Put(ctx context.Context, data []byte) error {
	return filex.WriteFileAtomic(s.path, data, 0o600)
}

// Get reads the stored snapshot. A missing file is reported as
// os.ErrNotExist so the caller can treat it as an empty store.
func (s *FileSink) Get(ctx context.Context) ([]byte, error) {
	return os.ReadFile(s.path)
}
