package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/pagination"
)

func pagedCatalog() *fakeCatalog {
	return &fakeCatalog{records: []domain.VideoRecord{
		readyVideo("a-intro", "Intro", 3, "welcome to the course"),
		readyVideo("b-search", "Search Basics", 6, "type a word into the search box"),
		pendingVideo("c-print", "Printing", 4),
		readyVideo("d-notes", "Notes", 5, "create a note on any verse"),
	}}
}

func TestListVideos_Paginates(t *testing.T) {
	svc := newTestService(pagedCatalog(), nil, Options{})
	ctx := context.Background()

	first, err := svc.ListVideos(ctx, ListQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Videos, 2)
	assert.Equal(t, "a-intro", first.Videos[0].ID)
	assert.Equal(t, "b-search", first.Videos[1].ID)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.Cursor)

	second, err := svc.ListVideos(ctx, ListQuery{Limit: 2, Cursor: first.Cursor})
	require.NoError(t, err)
	require.Len(t, second.Videos, 2)
	assert.Equal(t, "c-print", second.Videos[0].ID)
	assert.Equal(t, "d-notes", second.Videos[1].ID)
	assert.False(t, second.HasMore)
	assert.Empty(t, second.Cursor)

	assert.Equal(t, 4, second.Stats.Total)
}

func TestListVideos_NoLimitReturnsAll(t *testing.T) {
	svc := newTestService(pagedCatalog(), nil, Options{})

	out, err := svc.ListVideos(context.Background(), ListQuery{})
	require.NoError(t, err)
	assert.Len(t, out.Videos, 4)
	assert.False(t, out.HasMore)
}

func TestListVideos_CursorPastEnd(t *testing.T) {
	svc := newTestService(pagedCatalog(), nil, Options{})

	out, err := svc.ListVideos(context.Background(), ListQuery{Cursor: pagination.EncodeCursor("zzz")})
	require.NoError(t, err)
	assert.Empty(t, out.Videos)
}

func TestListVideos_InvalidCursor(t *testing.T) {
	svc := newTestService(pagedCatalog(), nil, Options{})

	_, err := svc.ListVideos(context.Background(), ListQuery{Cursor: "!!not-base64"})
	assert.ErrorIs(t, err, domain.ErrInvalidCursor)
}

func TestListVideos_FacetsApplyBeforePaging(t *testing.T) {
	svc := newTestService(pagedCatalog(), nil, Options{})

	out, err := svc.ListVideos(context.Background(), ListQuery{
		Facets: domain.Facets{Category: "workflow"},
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, out.Videos, 1)
	assert.Equal(t, "c-print", out.Videos[0].ID)
	assert.False(t, out.HasMore)
}
