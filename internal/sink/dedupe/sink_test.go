package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/hash/sha256"
)

type recordingSink struct {
	saved []string
	err   error
}

func (r *recordingSink) Save(_ context.Context, page crawler.Page) error {
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, page.Meta.URL)
	return nil
}

func page(url, text string) crawler.Page {
	return crawler.Page{Meta: crawler.PageMetadata{URL: url}, Text: text}
}

func TestDuplicateTextSkipped(t *testing.T) {
	t.Parallel()

	next := &recordingSink{}
	sink, err := New(next, sha256.New(), Config{ExpectedPages: 100})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Save(ctx, page("https://x.edu/a", "same notice body")))
	err = sink.Save(ctx, page("https://x.edu/a?page=1", "  same notice body\n"))
	require.ErrorIs(t, err, crawler.ErrDuplicateContent)
	require.NoError(t, sink.Save(ctx, page("https://x.edu/b", "different body")))
	require.Equal(t, []string{"https://x.edu/a", "https://x.edu/b"}, next.saved)
}

func TestFailedSaveNotRecorded(t *testing.T) {
	t.Parallel()

	next := &recordingSink{err: errors.New("disk full")}
	sink, err := New(next, sha256.New(), Config{})
	require.NoError(t, err)

	ctx := context.Background()
	require.Error(t, sink.Save(ctx, page("https://x.edu/a", "body")))
	next.err = nil
	require.NoError(t, sink.Save(ctx, page("https://x.edu/a", "body")))
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, sha256.New(), Config{})
	require.Error(t, err)
}
