// Package deck holds the fixed, ordered catalog of drawable tarot cards.
//
// The catalog is the 22-card Major Arcana. Order matters: the draw engine
// shuffles a copy of this slice, so changing the order or size changes every
// user's generated draws.
package deck

import "github.com/haneulk/tarot-timer/internal/model"

var majorArcana = []model.Card{
	{ID: 0, Name: "The Fool", NameKr: "바보", Meaning: "New beginnings, spontaneity, innocence", MeaningKr: "새로운 시작, 순수함, 모험"},
	{ID: 1, Name: "The Magician", NameKr: "마법사", Meaning: "Manifestation, resourcefulness, power", MeaningKr: "실현, 재능, 힘"},
	{ID: 2, Name: "The High Priestess", NameKr: "여교황", Meaning: "Intuition, sacred knowledge, subconscious", MeaningKr: "직감, 신성한 지식, 잠재의식"},
	{ID: 3, Name: "The Empress", NameKr: "여황제", Meaning: "Femininity, beauty, nature", MeaningKr: "여성성, 아름다움, 자연"},
	{ID: 4, Name: "The Emperor", NameKr: "황제", Meaning: "Authority, father-figure, structure", MeaningKr: "권위, 아버지상, 구조"},
	{ID: 5, Name: "The Hierophant", NameKr: "교황", Meaning: "Spiritual wisdom, religious beliefs", MeaningKr: "영적 지혜, 종교적 믿음"},
	{ID: 6, Name: "The Lovers", NameKr: "연인", Meaning: "Love, harmony, relationships", MeaningKr: "사랑, 조화, 관계"},
	{ID: 7, Name: "The Chariot", NameKr: "전차", Meaning: "Control, will power, success", MeaningKr: "통제, 의지력, 성공"},
	{ID: 8, Name: "Strength", NameKr: "힘", Meaning: "Strength, courage, patience", MeaningKr: "힘, 용기, 인내"},
	{ID: 9, Name: "The Hermit", NameKr: "은둔자", Meaning: "Introspection, searching, guidance", MeaningKr: "내성, 탐구, 안내"},
	{ID: 10, Name: "Wheel of Fortune", NameKr: "운명의 수레바퀴", Meaning: "Good luck, karma, life cycles", MeaningKr: "행운, 업보, 인생의 순환"},
	{ID: 11, Name: "Justice", NameKr: "정의", Meaning: "Justice, fairness, truth", MeaningKr: "정의, 공정함, 진실"},
	{ID: 12, Name: "The Hanged Man", NameKr: "매달린 사람", Meaning: "Suspension, restriction, letting go", MeaningKr: "보류, 제한, 내려놓음"},
	{ID: 13, Name: "Death", NameKr: "죽음", Meaning: "Endings, beginnings, change", MeaningKr: "끝, 시작, 변화"},
	{ID: 14, Name: "Temperance", NameKr: "절제", Meaning: "Balance, moderation, patience", MeaningKr: "균형, 절제, 인내"},
	{ID: 15, Name: "The Devil", NameKr: "악마", Meaning: "Bondage, addiction, sexuality", MeaningKr: "속박, 중독, 성적 욕구"},
	{ID: 16, Name: "The Tower", NameKr: "탑", Meaning: "Sudden change, upheaval, chaos", MeaningKr: "급작스런 변화, 격변, 혼돈"},
	{ID: 17, Name: "The Star", NameKr: "별", Meaning: "Hope, faith, purpose, renewal", MeaningKr: "희망, 믿음, 목적, 재생"},
	{ID: 18, Name: "The Moon", NameKr: "달", Meaning: "Illusion, fear, anxiety, intuition", MeaningKr: "환상, 두려움, 불안, 직관"},
	{ID: 19, Name: "The Sun", NameKr: "태양", Meaning: "Happiness, success, optimism", MeaningKr: "행복, 성공, 낙관주의"},
	{ID: 20, Name: "Judgement", NameKr: "심판", Meaning: "Judgement, rebirth, inner calling", MeaningKr: "심판, 재탄생, 내면의 부름"},
	{ID: 21, Name: "The World", NameKr: "세계", Meaning: "Completion, accomplishment, travel", MeaningKr: "완성, 성취, 여행"},
}

// Size returns the number of cards in the catalog.
func Size() int {
	return len(majorArcana)
}

// Cards returns a copy of the ordered catalog.
func Cards() []model.Card {
	out := make([]model.Card, len(majorArcana))
	copy(out, majorArcana)
	return out
}
