package models

import "time"

// KnowledgeChunk is one section of the chatbot knowledge base with its
// embedding vector.
type KnowledgeChunk struct {
	ID        uint      `gorm:"primaryKey"`
	Source    string    `gorm:"not null;index"`
	Section   int       `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	Embedding []float32 `gorm:"type:text;serializer:json"`
	CreatedAt time.Time
}
