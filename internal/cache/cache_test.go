package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mlecomte/qrtrack/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(mr.Addr(), time.Minute, time.Hour)
}

func TestDisabledCache_AlwaysMisses(t *testing.T) {
	ctx := context.Background()
	c := New("", time.Minute, time.Hour)

	assert.False(t, c.Enabled())

	link, ok := c.GetLink(ctx, IDKey(1))
	assert.False(t, ok)
	assert.Nil(t, link)

	// Writes and invalidations are safe no-ops.
	c.SetLink(ctx, &models.TrackingLink{ID: 1, Code: "abc123"}, IDKey(1), CodeKey("abc123"))
	c.Invalidate(ctx, IDKey(1))
	c.BumpListVersion(ctx)

	items, total, ok := c.GetList(ctx, c.ListKey(ctx, "q"))
	assert.False(t, ok)
	assert.Nil(t, items)
	assert.Zero(t, total)
}

func TestNilCache_IsSafe(t *testing.T) {
	ctx := context.Background()
	var c *Cache

	assert.False(t, c.Enabled())
	_, ok := c.GetLink(ctx, IDKey(1))
	assert.False(t, ok)
	c.SetLink(ctx, &models.TrackingLink{ID: 1}, IDKey(1))
	c.Invalidate(ctx, IDKey(1))
	c.BumpListVersion(ctx)
}

func TestCache_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c := newRedisCache(t)
	require.True(t, c.Enabled())

	link := &models.TrackingLink{ID: 7, Code: "abc123", DestinationURL: "https://example.com/a"}
	c.SetLink(ctx, link, IDKey(7), CodeKey("abc123"))

	got, ok := c.GetLink(ctx, CodeKey("abc123"))
	require.True(t, ok)
	assert.Equal(t, link.DestinationURL, got.DestinationURL)

	got, ok = c.GetLink(ctx, IDKey(7))
	require.True(t, ok)
	assert.EqualValues(t, 7, got.ID)

	c.Invalidate(ctx, IDKey(7), CodeKey("abc123"))
	_, ok = c.GetLink(ctx, IDKey(7))
	assert.False(t, ok)
	_, ok = c.GetLink(ctx, CodeKey("abc123"))
	assert.False(t, ok)
}

func TestCache_ListRoundTripAndVersionBump(t *testing.T) {
	ctx := context.Background()
	c := newRedisCache(t)

	key := c.ListKey(ctx, "q|ref|0|id|asc|1|20")
	c.SetList(ctx, key, []models.TrackingLink{{ID: 1, Code: "aaa111"}}, 1)

	items, total, ok := c.GetList(ctx, key)
	require.True(t, ok)
	assert.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "aaa111", items[0].Code)

	// A version bump re-addresses every list page; the stale entry is no
	// longer reachable.
	c.BumpListVersion(ctx)
	bumped := c.ListKey(ctx, "q|ref|0|id|asc|1|20")
	assert.NotEqual(t, key, bumped)
	_, _, ok = c.GetList(ctx, bumped)
	assert.False(t, ok)
}

func TestKeys_Deterministic(t *testing.T) {
	assert.Equal(t, "qrtrack:link:id:42", IDKey(42))
	assert.Equal(t, "qrtrack:link:code:abc123", CodeKey("abc123"))

	c := New("", time.Minute, time.Hour)
	ctx := context.Background()
	same := c.ListKey(ctx, "a|b|1|id|asc|1|20")
	assert.Equal(t, same, c.ListKey(ctx, "a|b|1|id|asc|1|20"))
	assert.NotEqual(t, same, c.ListKey(ctx, "a|b|2|id|asc|1|20"))
}
