package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newChunkRepoWithMock(t *testing.T) (*ChunkRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &ChunkRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestFetchFullTextRendersPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	repo := &ChunkRepository{db: db}

	mock.ExpectQuery(`SELECT id, text FROM chunks WHERE id IN ($1,$2)`).
		WithArgs("c1", "c2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "text"}).
			AddRow("c1", "first chunk").
			AddRow("c2", "second chunk"))

	out, err := repo.FetchFullText(context.Background(), []string{"c1", "c2"})
	if err != nil {
		t.Fatalf("FetchFullText() error = %v", err)
	}
	if out["c1"] != "first chunk" || out["c2"] != "second chunk" {
		t.Fatalf("unexpected texts: %v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFetchFullTextBatchesLargeIDSets(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	ids := make([]string, 0, fetchBatchSize+1)
	for i := 0; i < fetchBatchSize+1; i++ {
		ids = append(ids, fmt.Sprintf("c%04d", i))
	}

	mock.ExpectQuery("SELECT id, text FROM chunks WHERE id IN").
		WillReturnRows(sqlmock.NewRows([]string{"id", "text"}).AddRow("c0000", "head"))
	mock.ExpectQuery("SELECT id, text FROM chunks WHERE id IN").
		WillReturnRows(sqlmock.NewRows([]string{"id", "text"}).AddRow(ids[len(ids)-1], "tail"))

	out, err := repo.FetchFullText(context.Background(), ids)
	if err != nil {
		t.Fatalf("FetchFullText() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out["c0000"] != "head" || out[ids[len(ids)-1]] != "tail" {
		t.Fatalf("unexpected texts: %v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFetchFullTextEmptyIDsSkipsQuery(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	out, err := repo.FetchFullText(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchFullText() error = %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("len(out) = %d, want 0", len(out))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFetchMetadataDecodesRows(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, section, source, path FROM chunks WHERE id IN").
		WithArgs("c1", "c9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "section", "source", "path"}).
			AddRow("c1", "12", "acts", "acts/one.md"))

	out, err := repo.FetchMetadata(context.Background(), []string{"c1", "c9"})
	if err != nil {
		t.Fatalf("FetchMetadata() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	meta := out["c1"]
	if meta.Section != "12" || meta.Source != "acts" || meta.Path != "acts/one.md" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if _, ok := out["c9"]; ok {
		t.Fatalf("missing row should stay absent from the result")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadAllScansChunksInOrder(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, text, section, source, path FROM chunks ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "text", "section", "source", "path"}).
			AddRow("c1", "first", "12", "acts", "acts/one.md").
			AddRow("c2", "second", "13", "acts", "acts/two.md"))

	out, err := repo.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].ID != "c1" || out[0].Text != "first" || out[1].ID != "c2" {
		t.Fatalf("unexpected chunks: %+v", out)
	}
	if out[0].Meta.Section != "12" || out[1].Meta.Path != "acts/two.md" {
		t.Fatalf("unexpected metadata: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadAllWrapsQueryError(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, text, section, source, path FROM chunks ORDER BY id").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.LoadAll(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "load chunks") {
		t.Fatalf("error = %v, want load chunks wrap", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
