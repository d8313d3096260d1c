// Package archive keeps a JSON copy of every version in a blob store before
// the version is pruned from the repository.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

// ErrObjectNotFound is returned by blob stores for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore is the storage an Archiver writes to.
type BlobStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// List returns every key beginning with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// DefaultPrefix is where archived versions live unless WithPrefix is used.
const DefaultPrefix = "versions"

// Archiver implements lifecycle.VersionArchiver on a BlobStore.
type Archiver struct {
	store  BlobStore
	prefix string
}

// Option configures an Archiver
type Option func(*Archiver)

// WithPrefix sets the key prefix for archived versions
func WithPrefix(prefix string) Option {
	return func(a *Archiver) {
		a.prefix = strings.Trim(prefix, "/")
	}
}

// New creates an archiver writing to store
func New(store BlobStore, options ...Option) *Archiver {
	a := &Archiver{store: store, prefix: DefaultPrefix}
	for _, option := range options {
		option(a)
	}
	return a
}

func (a *Archiver) subjectPrefix(subject lifecycle.Subject) string {
	return path.Join(a.prefix, string(subject.Kind), subject.ID.String()) + "/"
}

// Key returns the object key of an archived version.
func (a *Archiver) Key(subject lifecycle.Subject, number int) string {
	return fmt.Sprintf("%s%010d.json", a.subjectPrefix(subject), number)
}

// ArchiveVersions writes each version as a JSON object.
func (a *Archiver) ArchiveVersions(ctx context.Context, versions []*lifecycle.Version) error {
	for _, v := range versions {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode version %d: %w", v.VersionNumber, err)
		}
		key := a.Key(v.Subject(), v.VersionNumber)
		if err := a.store.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
			return fmt.Errorf("archive %s: %w", key, err)
		}
	}
	return nil
}

// Load reads an archived version back.
func (a *Archiver) Load(ctx context.Context, subject lifecycle.Subject, number int) (*lifecycle.Version, error) {
	rc, err := a.store.Download(ctx, a.Key(subject, number))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, lifecycle.ErrVersionNotFound
		}
		return nil, err
	}
	defer rc.Close()

	var v lifecycle.Version
	if err := json.NewDecoder(rc).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode archived version %d: %w", number, err)
	}
	return &v, nil
}

// List returns the archived version numbers of the subject, newest first.
func (a *Archiver) List(ctx context.Context, subject lifecycle.Subject) ([]int, error) {
	prefix := a.subjectPrefix(subject)
	keys, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	numbers := make([]int, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json")
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(numbers)))
	return numbers, nil
}

var _ lifecycle.VersionArchiver = (*Archiver)(nil)
