package model

// Card is an immutable entry of the tarot deck.
type Card struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	NameKr    string `json:"name_kr"`
	Meaning   string `json:"meaning"`
	MeaningKr string `json:"meaning_kr"`
}
