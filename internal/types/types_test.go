package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountRefValidate(t *testing.T) {
	t.Run("platform without processor id", func(t *testing.T) {
		assert.NoError(t, PlatformRef().Validate())
	})

	t.Run("platform with processor id", func(t *testing.T) {
		ref := AccountRef{Kind: KindPlatform, ProcessorAccountID: "acct_1"}
		assert.Error(t, ref.Validate())
	})

	t.Run("connected requires processor id", func(t *testing.T) {
		assert.Error(t, ConnectedRef(KindEarner, "").Validate())
		assert.NoError(t, ConnectedRef(KindEmployer, "acct_9").Validate())
	})

	t.Run("unknown kind", func(t *testing.T) {
		assert.Error(t, AccountRef{Kind: "vendor", ProcessorAccountID: "acct_1"}.Validate())
	})
}

func TestParseAccountClass(t *testing.T) {
	tests := []struct {
		in      string
		want    AccountClass
		wantErr bool
	}{
		{"", ClassAll, false},
		{"all", ClassAll, false},
		{"Platform", ClassPlatform, false},
		{" connected ", ClassConnected, false},
		{"earners", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAccountClass(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAccountClassIncludes(t *testing.T) {
	assert.True(t, ClassPlatform.Includes(KindPlatform))
	assert.False(t, ClassPlatform.Includes(KindEarner))
	assert.True(t, ClassConnected.Includes(KindEarner))
	assert.True(t, ClassConnected.Includes(KindEmployer))
	assert.False(t, ClassConnected.Includes(KindPlatform))
	assert.True(t, ClassAll.Includes(KindEmployer))
	assert.False(t, ClassAll.Includes(AccountKind("other")))
}

func TestDayWindow(t *testing.T) {
	day := time.Date(2024, 3, 15, 17, 42, 9, 0, time.UTC)
	from, to := DayWindow(day)

	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC).Unix(), from)
	assert.Equal(t, time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC).Unix(), to)
}

func TestDayWindowNonUTCInput(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 2024-03-16 02:00 at +9 is 2024-03-15 17:00 UTC
	day := time.Date(2024, 3, 16, 2, 0, 0, 0, loc)
	from, _ := DayWindow(day)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC).Unix(), from)
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDay("2024/02/29")
	assert.Error(t, err)
}

func TestDaysBetween(t *testing.T) {
	from := time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC)

	days := DaysBetween(from, to)
	require.Len(t, days, 4)
	assert.Equal(t, from, days[0])
	assert.Equal(t, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), days[3])

	assert.Empty(t, DaysBetween(to, from))
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "13.55", FormatMinor(1355, "usd"))
	assert.Equal(t, "-2.00", FormatMinor(-200, "eur"))
	assert.Equal(t, "0.05", FormatMinor(5, "USD"))
	assert.Equal(t, "1355", FormatMinor(1355, "jpy"))
}
