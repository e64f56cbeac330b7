package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/internal/pipeline"
	"github.com/nhdandz/SmartDoc/internal/repository"
	"github.com/nhdandz/SmartDoc/pkg/llm"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

const sessionTitleRunes = 50

// Retriever 选择回答问题所需的上下文。
type Retriever interface {
	Retrieve(ctx context.Context, req pipeline.RetrieveRequest) (pipeline.Retrieval, error)
}

// AnswerSynthesizer 基于上下文生成回答。
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question string, fragments []model.ContextFragment) (pipeline.Answer, error)
	SynthesizeStream(ctx context.Context, question string, fragments []model.ContextFragment, w llm.MessageWriter) (pipeline.Answer, error)
}

// AskRequest 是一次提问。SessionID 为空时新建会话。
type AskRequest struct {
	OwnerID     string   `json:"-"`
	SessionID   string   `json:"sessionId"`
	Question    string   `json:"question"`
	DocumentIDs []string `json:"documentIds"`
}

// AskResult 是一次提问的结果。
type AskResult struct {
	SessionID   string                 `json:"sessionId"`
	Turn        model.ConversationTurn `json:"turn"`
	Mode        pipeline.Mode          `json:"mode"`
	Synthesized bool                   `json:"synthesized"`
}

// QAService 接口定义了问答与会话相关的业务操作。
type QAService interface {
	Ask(ctx context.Context, req AskRequest) (*AskResult, error)
	// AskStream 与 Ask 相同，但回答以分块形式写入 w。
	AskStream(ctx context.Context, req AskRequest, w llm.MessageWriter) (*AskResult, error)
	CreateSession(ctx context.Context, ownerID, title string) (*model.Conversation, error)
	GetSession(ctx context.Context, id, ownerID string) (*model.Conversation, error)
	ListSessions(ctx context.Context, ownerID string) ([]model.Conversation, error)
	RateTurn(ctx context.Context, sessionID, ownerID, turnID string, rating int) error
}

type qaService struct {
	conversations repository.ConversationRepository
	retriever     Retriever
	synthesizer   AnswerSynthesizer
}

// NewQAService 创建一个新的 QAService 实例。
func NewQAService(conversations repository.ConversationRepository, retriever Retriever, synthesizer AnswerSynthesizer) QAService {
	return &qaService{conversations: conversations, retriever: retriever, synthesizer: synthesizer}
}

func (s *qaService) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	return s.ask(ctx, req, func(question string, frags []model.ContextFragment) (pipeline.Answer, error) {
		return s.synthesizer.Synthesize(ctx, question, frags)
	})
}

func (s *qaService) AskStream(ctx context.Context, req AskRequest, w llm.MessageWriter) (*AskResult, error) {
	return s.ask(ctx, req, func(question string, frags []model.ContextFragment) (pipeline.Answer, error) {
		return s.synthesizer.SynthesizeStream(ctx, question, frags, w)
	})
}

func (s *qaService) ask(ctx context.Context, req AskRequest, synthesize func(string, []model.ContextFragment) (pipeline.Answer, error)) (*AskResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("empty question: %w", errs.ErrInvalidInput)
	}

	conv, err := s.sessionFor(ctx, req.SessionID, req.OwnerID, question)
	if err != nil {
		return nil, err
	}
	asked := model.ConversationTurn{
		ID:        uuid.NewString(),
		Role:      model.RoleQuestion,
		Content:   question,
		Timestamp: time.Now(),
	}

	retrieval, err := s.retriever.Retrieve(ctx, pipeline.RetrieveRequest{
		Question:    question,
		DocumentIDs: req.DocumentIDs,
		OwnerID:     req.OwnerID,
	})
	if err != nil {
		log.Errorf("[QAService] 检索失败, session: %s, error: %v", conv.ID, err)
		return nil, err
	}

	answer, err := synthesize(question, retrieval.Fragments)
	if err != nil {
		return nil, err
	}

	turn := model.ConversationTurn{
		ID:        uuid.NewString(),
		Role:      model.RoleAnswer,
		Content:   answer.Content,
		Timestamp: time.Now(),
		Citations: answer.Citations,
	}
	// 回答已生成，即使请求被取消也保存
	if err := s.appendTurns(context.Background(), conv, req.SessionID == "", asked, turn); err != nil {
		log.Errorf("[QAService] 保存会话 %s 失败: %v", conv.ID, err)
	}

	log.Infof("[QAService] session: %s, mode: %s, fragments: %d, synthesized: %t",
		conv.ID, retrieval.Mode, len(retrieval.Fragments), answer.Synthesized)
	return &AskResult{SessionID: conv.ID, Turn: turn, Mode: retrieval.Mode, Synthesized: answer.Synthesized}, nil
}

// appendTurns 追加一问一答。已有会话走 Update，避免并发提问互相覆盖。
func (s *qaService) appendTurns(ctx context.Context, conv *model.Conversation, created bool, turns ...model.ConversationTurn) error {
	apply := func(c *model.Conversation) {
		c.Turns = append(c.Turns, turns...)
		c.UpdatedAt = turns[len(turns)-1].Timestamp
	}
	if created {
		apply(conv)
		return s.conversations.Save(ctx, conv)
	}
	return s.conversations.Update(ctx, conv.ID, func(c *model.Conversation) error {
		if c.OwnerID != conv.OwnerID {
			return fmt.Errorf("conversation %s: %w", c.ID, errs.ErrNotFound)
		}
		apply(c)
		return nil
	})
}

func (s *qaService) sessionFor(ctx context.Context, sessionID, ownerID, question string) (*model.Conversation, error) {
	if sessionID != "" {
		return s.GetSession(ctx, sessionID, ownerID)
	}
	return newConversation(ownerID, model.Truncate(question, sessionTitleRunes)), nil
}

func newConversation(ownerID, title string) *model.Conversation {
	now := time.Now()
	return &model.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		Turns:     []model.ConversationTurn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *qaService) CreateSession(ctx context.Context, ownerID, title string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Phiên hỏi đáp mới"
	}
	conv := newConversation(ownerID, title)
	if err := s.conversations.Save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *qaService) GetSession(ctx context.Context, id, ownerID string) (*model.Conversation, error) {
	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.OwnerID != ownerID {
		return nil, fmt.Errorf("conversation %s: %w", id, errs.ErrNotFound)
	}
	return conv, nil
}

func (s *qaService) ListSessions(ctx context.Context, ownerID string) ([]model.Conversation, error) {
	return s.conversations.ListByOwner(ctx, ownerID)
}

// RateTurn 为回答打分，rating 取值 1..5。
func (s *qaService) RateTurn(ctx context.Context, sessionID, ownerID, turnID string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating %d out of range 1..5: %w", rating, errs.ErrInvalidInput)
	}
	return s.conversations.Update(ctx, sessionID, func(conv *model.Conversation) error {
		if conv.OwnerID != ownerID {
			return fmt.Errorf("conversation %s: %w", sessionID, errs.ErrNotFound)
		}
		for i := range conv.Turns {
			if conv.Turns[i].ID != turnID {
				continue
			}
			if conv.Turns[i].Role != model.RoleAnswer {
				return fmt.Errorf("turn %s is not an answer: %w", turnID, errs.ErrInvalidInput)
			}
			conv.Turns[i].Rating = &rating
			conv.UpdatedAt = time.Now()
			return nil
		}
		return fmt.Errorf("turn %s: %w", turnID, errs.ErrNotFound)
	})
}
