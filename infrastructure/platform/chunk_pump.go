package platform

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"
)

// Part is one fixed-size slice of a media stream. Last is set on the final part, which may be short.
type Part struct {
	Index  int
	Offset int64
	Data   []byte
	Last   bool
}

// PumpParts reads r in partSize slices on one goroutine and hands them to upload on another, so a
// slow source and a slow sink overlap. One part of lookahead is kept so the final part is known
// before it is sent. Parts are numbered from 1. It returns the number of parts uploaded.
//
// When r is also an io.Closer it is closed as soon as the pump stops, so a read blocked on a slow
// source returns once the upload fails or ctx ends.
func PumpParts(ctx context.Context, r io.Reader, partSize int64, upload func(ctx context.Context, p Part) error) (int, error) {
	if partSize <= 0 {
		return 0, errors.New("part size must be positive")
	}
	g, ctx := errgroup.WithContext(ctx)
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}
	parts := make(chan Part, 1)

	g.Go(func() error {
		defer close(parts)
		cur, err := readPart(r, partSize)
		if err != nil || cur == nil {
			return err
		}
		var offset int64
		for index := 1; ; index++ {
			next, err := readPart(r, partSize)
			if err != nil {
				return err
			}
			p := Part{Index: index, Offset: offset, Data: cur, Last: next == nil}
			select {
			case parts <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
			if next == nil {
				return nil
			}
			offset += int64(len(cur))
			cur = next
		}
	})

	count := 0
	g.Go(func() error {
		for p := range parts {
			if err := upload(ctx, p); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return count, err
	}
	return count, nil
}

// readPart returns nil at end of stream.
func readPart(r io.Reader, size int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(r, buf)
	switch {
	case errors.Is(err, io.EOF):
		return nil, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], nil
	case err != nil:
		return nil, err
	}
	return buf, nil
}
