package snowflake

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_DocumentedExample(t *testing.T) {
	t.Parallel()

	got, err := Timestamp("175928847299117063")
	require.NoError(t, err)

	want := time.Date(2016, time.April, 30, 11, 18, 25, 796*int(time.Millisecond), time.UTC)
	assert.True(t, want.Equal(got), "got %s", got)

	ms, err := UnixMilli(175928847299117063)
	require.NoError(t, err)
	assert.Equal(t, uint64(1462015105796), ms)
}

func TestTimestamp_AgreesWithDiscordgo(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"175928847299117063", "80351110224678912", "1234567890123456789"} {
		want, err := discordgo.SnowflakeTimestamp(id)
		require.NoError(t, err)
		got, err := Timestamp(id)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "id=%s want=%s got=%s", id, want, got)
	}
}

func TestTimestamp_ZeroIsEpoch(t *testing.T) {
	t.Parallel()

	got, err := Time(0)
	require.NoError(t, err)
	assert.Equal(t, int64(Epoch), got.UnixMilli())
}

func TestTimestamp_MaxID(t *testing.T) {
	t.Parallel()

	_, err := Time(^uint64(0))
	assert.NoError(t, err)
}

func TestTimestamp_InvalidInput(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"", "abc", "-1", "99999999999999999999999"} {
		_, err := Timestamp(id)
		assert.Error(t, err, "id=%q", id)
	}
}
