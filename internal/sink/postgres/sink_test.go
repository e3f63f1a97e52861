package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

func TestSaveUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	page := crawler.Page{
		Meta: crawler.PageMetadata{
			URL:        "https://www.example.edu/notice/1",
			FinalURL:   "https://www.example.edu/notice/1?lang=ko",
			Title:      "공지",
			Depth:      2,
			Host:       "www.example.edu",
			Priority:   1130,
			StatusCode: 200,
			FetchedAt:  now,
			SessionID:  "s-1",
		},
		Text: "본문 텍스트",
	}

	mock.ExpectExec("INSERT INTO crawled_pages").
		WithArgs(
			page.Meta.URL,
			page.Meta.FinalURL,
			page.Meta.Title,
			page.Meta.Depth,
			page.Meta.Host,
			page.Meta.Priority,
			page.Meta.StatusCode,
			6,
			now,
			"s-1",
			page.Text,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Save(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWrapsPersistenceError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "pages")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO pages").WillReturnError(errors.New("connection reset"))
	err = sink.Save(context.Background(), crawler.Page{Meta: crawler.PageMetadata{URL: "https://x.edu/"}})
	require.ErrorIs(t, err, crawler.ErrPersistence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "pages")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS pages").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, sink.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "pages")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "pages; DROP TABLE x")
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)

	var nilSink *Sink
	require.ErrorIs(t, nilSink.Save(context.Background(), crawler.Page{}), crawler.ErrPersistence)
	nilSink.Close()
}
