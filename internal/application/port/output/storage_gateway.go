package output

import "context"

// StorageGateway persists exported artifacts (ledger exports, decision
// logs). Implementations decide the backing medium.
type StorageGateway interface {
	// SaveArtifact writes data under a relative path and returns the
	// absolute location of the stored artifact.
	SaveArtifact(ctx context.Context, relPath string, data []byte) (string, error)

	// LoadArtifact reads a previously saved artifact
	LoadArtifact(ctx context.Context, relPath string) ([]byte, error)
}
