// Package model 包含了应用的数据模型定义。
package model

import "time"

// TurnRole 区分提问与回答。
type TurnRole string

const (
	RoleQuestion TurnRole = "question"
	RoleAnswer   TurnRole = "answer"
)

// ConversationTurn 代表存储在 Redis 中的单条对话记录。
type ConversationTurn struct {
	ID        string     `json:"id"`
	Role      TurnRole   `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Citations []Citation `json:"citations,omitempty"`
	Rating    *int       `json:"rating,omitempty"`
}

// Conversation 是一个问答会话，整体以 JSON 形式保存。
type Conversation struct {
	ID        string             `json:"id"`
	OwnerID   string             `json:"ownerId"`
	Title     string             `json:"title"`
	Turns     []ConversationTurn `json:"turns"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
