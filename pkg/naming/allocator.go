// Package naming derives collision-resistant, date-sharded storage paths for
// uploaded images: <namespace>/<YYYY>/<MM>/<DD>/<stem><tag>.<ext>
package naming

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

const (
	// StemBytes is the amount of randomness in every generated stem.
	StemBytes = 8
	// DefaultAttempts bounds how often a colliding stem is regenerated.
	DefaultAttempts = 5
	// MaxTag is the largest order tag that fits the three digit layout.
	MaxTag = 999
)

var (
	ErrExhausted       = errors.New("no free path found")
	ErrInvalidSequence = errors.New("invalid order sequence")
)

// Order is the tag convention for files without an explicit sequence
type Order string

const (
	// OrderAscending tags the first submitted file 001.
	OrderAscending Order = "ascending"
	// OrderReverse tags the first submitted file N, for clients that send batches last-to-first.
	OrderReverse Order = "reverse"
)

func ParseOrder(value string) (Order, error) {
	switch strings.ToLower(value) {
	case "", string(OrderAscending):
		return OrderAscending, nil
	case string(OrderReverse):
		return OrderReverse, nil
	}
	return "", fmt.Errorf("unknown order '%s'", value)
}

// ExistsFunc reports whether a candidate path is already taken.
type ExistsFunc func(ctx context.Context, path string) (bool, error)

// Placement is an allocated name and its backend-relative path
type Placement struct {
	Filename string
	Path     string
}

type Allocator struct {
	order    Order
	random   io.Reader
	attempts int
}

func NewAllocator(order Order) *Allocator {
	return &Allocator{
		order:    order,
		random:   rand.Reader,
		attempts: DefaultAttempts,
	}
}

// DateDir returns <namespace>/YYYY/MM/DD for the local calendar date of t.
func DateDir(namespace string, t time.Time) string {
	local := t.Local()
	dir := fmt.Sprintf("%04d/%02d/%02d", local.Year(), int(local.Month()), local.Day())

	namespace = strings.Trim(namespace, "/")
	if namespace == "" {
		return dir
	}
	return path.Join(namespace, dir)
}

// OrderTags returns one zero-padded tag per file. sequences holds the optional
// client supplied 1-based index per file; zero means "derive from position".
// Tags above MaxTag or tags assigned twice are rejected.
func (a *Allocator) OrderTags(count int, sequences []int) ([]string, error) {
	tags := make([]string, count)
	taken := make(map[int]int, count)
	for i := range count {
		seq := 0
		if i < len(sequences) {
			seq = sequences[i]
		}

		if seq <= 0 {
			switch a.order {
			case OrderReverse:
				seq = count - i
			default:
				seq = i + 1
			}
		}
		if seq > MaxTag {
			return nil, fmt.Errorf("%w: tag %d of file %d exceeds %d", ErrInvalidSequence, seq, i+1, MaxTag)
		}
		if prev, ok := taken[seq]; ok {
			return nil, fmt.Errorf("%w: files %d and %d share tag %d", ErrInvalidSequence, prev+1, i+1, seq)
		}
		taken[seq] = i
		tags[i] = fmt.Sprintf("%03d", seq)
	}
	return tags, nil
}

// Stem returns StemBytes of randomness, hex encoded.
func (a *Allocator) Stem() (string, error) {
	buf := make([]byte, StemBytes)
	if _, err := io.ReadFull(a.random, buf); err != nil {
		return "", fmt.Errorf("failed to read random stem: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Allocate builds <dir>/<stem><tag>.<ext> and regenerates the stem while exists
// reports the path as taken.
func (a *Allocator) Allocate(ctx context.Context, dir, tag, ext string, exists ExistsFunc) (Placement, error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return Placement{}, fmt.Errorf("missing file extension")
	}

	for range a.attempts {
		stem, err := a.Stem()
		if err != nil {
			return Placement{}, err
		}

		filename := fmt.Sprintf("%s%s.%s", stem, tag, ext)
		candidate := path.Join(dir, filename)

		if exists != nil {
			taken, err := exists(ctx, candidate)
			if err != nil {
				return Placement{}, fmt.Errorf("failed to check '%s': %w", candidate, err)
			}
			if taken {
				continue
			}
		}

		return Placement{Filename: filename, Path: candidate}, nil
	}

	return Placement{}, fmt.Errorf("%w in '%s' after %d attempts", ErrExhausted, dir, a.attempts)
}
