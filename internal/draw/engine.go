// Package draw generates a user's daily card sequence deterministically.
//
// The same (userID, date) pair always yields the same ordered sequence, so the
// scheduler and the notification path agree on "the card for hour H" without
// any shared storage. The seed fold and the LCG constants are kept
// bit-compatible with the mobile client; changing them silently reshuffles
// every existing user's history.
package draw

import (
	"errors"
	"time"

	"github.com/haneulk/tarot-timer/internal/deck"
	"github.com/haneulk/tarot-timer/internal/model"
)

// SlotsPerDay is the number of addressable hour slots in a daily draw.
const SlotsPerDay = 24

// DateLayout is the ISO date format used for seeding.
const DateLayout = "2006-01-02"

var (
	ErrInvalidHour  = errors.New("hour must be between 0 and 23")
	ErrInvalidDate  = errors.New("date must be formatted as YYYY-MM-DD")
	ErrCardNotFound = errors.New("no card for the given hour")
)

// Seed folds userID and date into a 32-bit seed. The accumulator deliberately
// wraps at 32 bits, matching the client's charCode fold.
func Seed(userID, isoDate string) uint32 {
	var acc int32
	for _, ch := range userID + "_" + isoDate {
		acc = acc<<5 - acc + int32(ch)
	}

	v := int64(acc)
	if v < 0 {
		v = -v
	}

	return uint32(v)
}

// Shuffle returns a copy of cards permuted by a Fisher-Yates shuffle driven by
// the seeded linear-congruential generator.
func Shuffle(cards []model.Card, seed uint32) []model.Card {
	out := make([]model.Card, len(cards))
	copy(out, cards)

	next := uint64(seed)
	uniform := func() float64 {
		next = (next*9301 + 49297) % 233280
		return float64(next) / 233280
	}

	for i := len(out) - 1; i > 0; i-- {
		j := int(uniform() * float64(i+1))
		out[i], out[j] = out[j], out[i]
	}

	return out
}

// DailyDraw computes the ordered card sequence for a user's day. The deck is
// shuffled with Seed(userID, isoDate) and the first min(slotCount, deck size)
// cards are taken; when slotCount exceeds the deck the result is shorter than
// requested, with no repetition.
func DailyDraw(userID, isoDate string, slotCount int) ([]model.Card, error) {
	if _, err := time.Parse(DateLayout, isoDate); err != nil {
		return nil, ErrInvalidDate
	}

	if slotCount <= 0 {
		return nil, nil
	}

	shuffled := Shuffle(deck.Cards(), Seed(userID, isoDate))
	if slotCount > len(shuffled) {
		slotCount = len(shuffled)
	}

	return shuffled[:slotCount], nil
}

// CardAt returns the card assigned to the given hour of the user's day.
// It fails with ErrInvalidHour for hours outside 0-23 and with
// ErrCardNotFound when the daily draw is shorter than hour+1.
func CardAt(userID string, hour int, isoDate string) (model.Card, error) {
	if hour < 0 || hour > 23 {
		return model.Card{}, ErrInvalidHour
	}

	cards, err := DailyDraw(userID, isoDate, SlotsPerDay)
	if err != nil {
		return model.Card{}, err
	}

	if hour >= len(cards) {
		return model.Card{}, ErrCardNotFound
	}

	return cards[hour], nil
}
