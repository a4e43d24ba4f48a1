package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 123000, time.UTC)
	c := &Cursor{CreatedAt: at, ID: 42}

	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(at))
	assert.Equal(t, int64(42), decoded.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, in := range []string{"!!!", "bm90LWpzb24", (&Cursor{}).Encode()} {
		_, err := DecodeCursor(in)
		assert.Error(t, err, in)
	}
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		sort      string
		wantLimit int
		wantSort  Sort
		wantErr   bool
	}{
		{name: "defaults", limit: 0, sort: "", wantLimit: DefaultLimit, wantSort: SortNewest},
		{name: "clamped", limit: 1000, sort: "oldest", wantLimit: MaxLimit, wantSort: SortOldest},
		{name: "explicit", limit: 7, sort: "newest", wantLimit: 7, wantSort: SortNewest},
		{name: "bad sort", limit: 5, sort: "sideways", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest(tt.limit, "", tt.sort)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, req.Limit)
			assert.Equal(t, tt.wantSort, req.Sort)
			assert.Nil(t, req.Cursor)
		})
	}
}

func TestLessBreaksTiesByID(t *testing.T) {
	now := time.Now()
	assert.True(t, Less(now, 1, now, 2))
	assert.False(t, Less(now, 2, now, 1))
	assert.False(t, Less(now, 2, now, 2))
	assert.True(t, Less(now, 9, now.Add(time.Millisecond), 1))
}
