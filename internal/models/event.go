package models

// UpsertOutcome is what the store reports for a single write.
type UpsertOutcome struct {
	MatchedCount  int64  `json:"matched_count"`
	ModifiedCount int64  `json:"modified_count"`
	UpsertedID    string `json:"upserted_id,omitempty"`
}

// Inserted reports whether the write created the document.
func (o UpsertOutcome) Inserted() bool {
	return o.MatchedCount == 0 && o.ModifiedCount == 0 && o.UpsertedID != ""
}

// EventType classifies a station change.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// StationEvent is the message broadcast after every store write.
type StationEvent struct {
	Type   EventType       `json:"type"`
	Meta   UpsertOutcome   `json:"meta"`
	Record StationDocument `json:"record"`
}
