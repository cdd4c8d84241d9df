package memory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Memory kinds. The extraction pipeline only produces the first three;
// the rest arrive through explicit saves.
const (
	KindUserPreference = "user_preference"
	KindUserInfo       = "user_info"
	KindTopicInterest  = "topic_interest"
	KindInteraction    = "interaction"
	KindFact           = "fact"
)

// KnownKinds is the closed set of accepted memory kinds.
var KnownKinds = map[string]bool{
	KindUserPreference: true,
	KindUserInfo:       true,
	KindTopicInterest:  true,
	KindInteraction:    true,
	KindFact:           true,
}

// Item is one stored memory. Seq is the auto-increment insertion counter
// used to keep equal-relevance recalls in a stable order. Source records
// the user message a memory was extracted from, truncated.
type Item struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Seq         int64     `gorm:"autoIncrement;uniqueIndex" json:"seq"`
	Kind        string    `gorm:"index" json:"kind"`
	Content     string    `json:"content"`
	Source      string    `json:"source,omitempty"`
	Importance  float64   `json:"importance"`
	AccessCount int       `json:"access_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName keeps the table name short and singular-free.
func (Item) TableName() string { return "memories" }

// BeforeCreate assigns an ID and clamps importance into [0, 1].
func (m *Item) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = fmt.Sprintf("mem_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	}
	if m.Importance < 0 {
		m.Importance = 0
	}
	if m.Importance > 1 {
		m.Importance = 1
	}
	return nil
}
