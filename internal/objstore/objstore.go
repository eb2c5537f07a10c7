package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned by Get and Delete for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	FileName    string    `json:"fileName,omitempty"`
	Uploaded    time.Time `json:"uploaded"`
}

// ObjectStore holds the raw bytes of uploaded files, keyed by an opaque
// generated path. Metadata lives in the relational store.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType, fileName string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]ObjectInfo, error)
}

// NewObjectKey generates the storage path for an upload:
// {userId}/{threadId}/{uuid}.{ext}.
func NewObjectKey(userID, threadID, fileName string) string {
	ext := "bin"
	if idx := strings.LastIndex(fileName, "."); idx >= 0 && idx < len(fileName)-1 {
		ext = fileName[idx+1:]
	}
	return fmt.Sprintf("%s/%s/%s.%s", userID, threadID, uuid.NewString(), ext)
}
