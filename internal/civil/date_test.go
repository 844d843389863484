package civil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	require.Equal(t, New(2024, time.February, 29), d)
	require.Equal(t, "2024-02-29", d.String())

	_, err = ParseDate("2023-02-29")
	require.ErrorIs(t, err, ErrInvalidDate)

	_, err = ParseDate("02/01/2024")
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestAddMonthsClamped(t *testing.T) {
	cases := []struct {
		start string
		n     int
		want  string
	}{
		{"2024-01-31", 1, "2024-02-29"},
		{"2023-01-31", 1, "2023-02-28"},
		{"2024-02-29", 12, "2025-02-28"},
		{"2024-02-29", 48, "2028-02-29"},
		{"2023-01-15", 12, "2024-01-15"},
		{"2023-08-31", 1, "2023-09-30"},
		{"2023-12-15", 1, "2024-01-15"},
		{"2023-11-30", 3, "2024-02-29"},
		{"2023-03-31", -1, "2023-02-28"},
		{"2023-01-10", -13, "2021-12-10"},
	}
	for _, tc := range cases {
		got := MustParse(tc.start).AddMonthsClamped(tc.n)
		assert.Equal(t, tc.want, got.String(), "%s + %d months", tc.start, tc.n)
	}
}

func TestCompare(t *testing.T) {
	a := MustParse("2024-01-14")
	b := MustParse("2024-01-15")
	require.True(t, a.Before(b))
	require.True(t, b.After(a))
	require.Equal(t, 0, a.Compare(a))
	require.True(t, MustParse("2023-12-31").Before(a))
}

func TestToday_UsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	now := time.Date(2024, time.March, 1, 2, 0, 0, 0, time.UTC)
	require.Equal(t, "2024-03-01", Today(now, tokyo).String())
	require.Equal(t, "2024-02-29", Today(now, la).String())
	require.Equal(t, "2024-03-01", Today(now, nil).String())
}

func TestValid(t *testing.T) {
	require.True(t, New(2024, time.February, 29).Valid())
	require.False(t, New(2023, time.February, 29).Valid())
	require.False(t, Date{}.Valid())
}

func TestScanAndValue(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan("2024-05-31"))
	require.Equal(t, "2024-05-31", d.String())

	require.NoError(t, d.Scan([]byte("2023-01-01")))
	require.Equal(t, "2023-01-01", d.String())

	v, err := d.Value()
	require.NoError(t, err)
	require.Equal(t, "2023-01-01", v)

	require.Error(t, d.Scan(42))
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		Date Date `json:"date"`
	}
	data, err := json.Marshal(wrapper{Date: MustParse("2024-01-31")})
	require.NoError(t, err)
	require.JSONEq(t, `{"date":"2024-01-31"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"date":"2025-02-28"}`), &w))
	require.Equal(t, "2025-02-28", w.Date.String())

	require.Error(t, json.Unmarshal([]byte(`{"date":"not-a-date"}`), &w))
}
