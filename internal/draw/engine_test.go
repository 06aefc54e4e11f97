package draw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haneulk/tarot-timer/internal/deck"
)

func TestSeed_MatchesClientFold(t *testing.T) {
	// Golden values computed with the client's charCode fold.
	assert.Equal(t, uint32(1758323674), Seed("u1", "2024-01-15"))
	assert.Equal(t, uint32(1758323673), Seed("u1", "2024-01-16"))
	assert.Equal(t, uint32(1629240955), Seed("u2", "2024-01-15"))
	assert.Equal(t, uint32(1681524386), Seed("alice", "2025-03-01"))
}

func TestDailyDraw_Deterministic(t *testing.T) {
	first, err := DailyDraw("u1", "2024-01-15", SlotsPerDay)
	require.NoError(t, err)

	second, err := DailyDraw("u1", "2024-01-15", SlotsPerDay)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// Golden permutation head for the same inputs.
	assert.Equal(t, 19, first[0].ID)
	assert.Equal(t, 1, first[1].ID)
	assert.Equal(t, 8, first[2].ID)
	assert.Equal(t, 16, first[3].ID)
}

func TestDailyDraw_VariesByUserAndDate(t *testing.T) {
	base, err := DailyDraw("u1", "2024-01-15", SlotsPerDay)
	require.NoError(t, err)

	otherDate, err := DailyDraw("u1", "2024-01-16", SlotsPerDay)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherDate)

	otherUser, err := DailyDraw("u2", "2024-01-15", SlotsPerDay)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherUser)
}

func TestDailyDraw_TruncatesAtDeckSize(t *testing.T) {
	cards, err := DailyDraw("u1", "2024-01-15", SlotsPerDay)
	require.NoError(t, err)

	// The deck is smaller than 24 slots; the draw must not repeat cards.
	assert.Len(t, cards, deck.Size())

	seen := make(map[int]bool, len(cards))
	for _, c := range cards {
		assert.False(t, seen[c.ID], "card %d repeated", c.ID)
		seen[c.ID] = true
	}
}

func TestDailyDraw_InvalidDate(t *testing.T) {
	_, err := DailyDraw("u1", "15-01-2024", SlotsPerDay)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestCardAt_Bounds(t *testing.T) {
	_, err := CardAt("u1", 24, "2024-01-15")
	assert.ErrorIs(t, err, ErrInvalidHour)

	_, err = CardAt("u1", -1, "2024-01-15")
	assert.ErrorIs(t, err, ErrInvalidHour)
}

func TestCardAt_HourBeyondDeck(t *testing.T) {
	// Hours 22 and 23 fall past the 22-card deck and have no card.
	_, err := CardAt("u1", 23, "2024-01-15")
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestCardAt_ReturnsDrawEntry(t *testing.T) {
	cards, err := DailyDraw("u1", "2024-01-15", SlotsPerDay)
	require.NoError(t, err)

	for hour := 0; hour < len(cards); hour++ {
		got, err := CardAt("u1", hour, "2024-01-15")
		require.NoError(t, err)
		assert.Equal(t, cards[hour], got)
	}
}
