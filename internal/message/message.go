// Package message renders notification payloads for the tarot timer.
package message

import (
	"fmt"

	"github.com/haneulk/tarot-timer/internal/model"
)

// Payload is what the dispatchers deliver: a rendered title/body pair plus
// structured data the client uses for deep-linking.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// specialTimes are extra flourishes for notable hours, appended to the
// hourly card body.
var specialTimes = map[int]string{
	0:  "새로운 하루의 시작을 축복합니다 🌙",
	6:  "상쾌한 아침입니다 ☀️",
	12: "하루의 중심점에 도달했습니다 🌅",
	18: "평화로운 저녁 시간입니다 🌆",
	21: "하루를 돌아보는 시간입니다 📚",
}

// truncate shortens s to at most max runes, adding an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}

	return string(r[:max]) + "…"
}

// HourlyCard renders the hourly card push for the given local hour.
func HourlyCard(userID string, hour int, card model.Card) Payload {
	body := fmt.Sprintf("%s - %s", card.NameKr, truncate(card.MeaningKr, 80))
	if extra, ok := specialTimes[hour]; ok {
		body = fmt.Sprintf("%s\n%s", body, extra)
	}

	return Payload{
		Title: fmt.Sprintf("🔮 %d시 타로 카드", hour),
		Body:  body,
		Data: map[string]string{
			"type":      "hourly_card",
			"user_id":   userID,
			"hour":      fmt.Sprintf("%d", hour),
			"card_id":   fmt.Sprintf("%d", card.ID),
			"card_name": card.Name,
		},
	}
}

// MidnightReset renders the "new day" push sent after a user's daily draw
// is regenerated.
func MidnightReset(userID, isoDate string) Payload {
	return Payload{
		Title: "🌙 새로운 24시간 카드 세트",
		Body:  "오늘의 새로운 타로 카드들이 준비되었습니다. 첫 번째 카드를 확인해보세요!",
		Data: map[string]string{
			"type":    "midnight_reset",
			"user_id": userID,
			"date":    isoDate,
		},
	}
}

// SaveReminder renders the evening journaling reminder.
func SaveReminder(userID string) Payload {
	return Payload{
		Title: "📝 오늘의 타로 일기",
		Body:  "오늘의 타로 세션을 저장하는 것을 잊지 마세요. 소중한 통찰을 기록해보세요.",
		Data: map[string]string{
			"type":    "daily_save_reminder",
			"user_id": userID,
		},
	}
}
