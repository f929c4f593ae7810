package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type FraudDecision string

const (
	FraudDecisionAllow     FraudDecision = "allow"
	FraudDecisionChallenge FraudDecision = "challenge"
	FraudDecisionBlock     FraudDecision = "block"
)

// SignalScores - вклад каждого сработавшего сигнала в итоговый балл.
type SignalScores map[string]int

func (s SignalScores) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s)
}

func (s *SignalScores) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		*s = SignalScores{}
		return nil
	default:
		return errors.New("signal scores: unsupported scan type")
	}
}

// FraudAssessment - результат оценки одной попытки бронирования. После записи не меняется.
type FraudAssessment struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	CustomerID uuid.UUID     `db:"customer_id" json:"customer_id"`
	SlotKey    string        `db:"slot_key" json:"slot_key"`
	Signals    SignalScores  `db:"signals" json:"signals"`
	TotalScore int           `db:"total_score" json:"total_score"`
	Decision   FraudDecision `db:"decision" json:"decision"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}
