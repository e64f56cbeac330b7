package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/internal/model"
)

const (
	conversationTTL      = 7 * 24 * time.Hour
	conversationMaxTurns = 20
)

// 每个竞争者最多让出一次，重试次数需要覆盖同一会话上的并发请求数。
const conversationUpdateRetries = 16

// ConversationRepository 定义了问答会话的存取接口。
type ConversationRepository interface {
	Save(ctx context.Context, conv *model.Conversation) error
	Get(ctx context.Context, id string) (*model.Conversation, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Conversation, error)
	// Update 读取会话、交给 fn 修改后写回，期间会话被他人修改则重试。
	// fn 返回的错误原样返回，会话不会被写入。
	Update(ctx context.Context, id string, fn func(conv *model.Conversation) error) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(id string) string {
	return fmt.Sprintf("conversation:%s", id)
}

func ownerConversationsKey(ownerID string) string {
	return fmt.Sprintf("user:%s:conversations", ownerID)
}

// Save 以 JSON 保存会话，只保留最近 20 轮，7 天过期。
func (r *redisConversationRepository) Save(ctx context.Context, conv *model.Conversation) error {
	jsonData, err := encodeConversation(conv)
	if err != nil {
		return err
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeConversation(ctx, pipe, conv, jsonData)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// Update 使用 WATCH 乐观锁完成读-改-写。
func (r *redisConversationRepository) Update(ctx context.Context, id string, fn func(conv *model.Conversation) error) error {
	key := conversationKey(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("conversation %s: %w", id, errs.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get conversation: %w", err)
		}
		var conv model.Conversation
		if err := json.Unmarshal(raw, &conv); err != nil {
			return fmt.Errorf("failed to unmarshal conversation: %w", err)
		}
		if err := fn(&conv); err != nil {
			return err
		}
		jsonData, err := encodeConversation(&conv)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			writeConversation(ctx, pipe, &conv, jsonData)
			return nil
		})
		return err
	}

	for i := 0; i < conversationUpdateRetries; i++ {
		err := r.redisClient.Watch(ctx, txf, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return fmt.Errorf("conversation %s: %w", id, errs.ErrConflict)
}

func encodeConversation(conv *model.Conversation) ([]byte, error) {
	if len(conv.Turns) > conversationMaxTurns {
		conv.Turns = conv.Turns[len(conv.Turns)-conversationMaxTurns:]
	}
	jsonData, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return jsonData, nil
}

func writeConversation(ctx context.Context, pipe redis.Pipeliner, conv *model.Conversation, jsonData []byte) {
	ownerKey := ownerConversationsKey(conv.OwnerID)
	pipe.Set(ctx, conversationKey(conv.ID), jsonData, conversationTTL)
	pipe.SAdd(ctx, ownerKey, conv.ID)
	pipe.Expire(ctx, ownerKey, conversationTTL)
}

func (r *redisConversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(id)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("conversation %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	var conv model.Conversation
	if err := json.Unmarshal([]byte(jsonData), &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}

// ListByOwner 返回用户的全部会话，按最近更新时间倒序。已过期的会话会从索引集合中移除。
func (r *redisConversationRepository) ListByOwner(ctx context.Context, ownerID string) ([]model.Conversation, error) {
	ownerKey := ownerConversationsKey(ownerID)
	ids, err := r.redisClient.SMembers(ctx, ownerKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	convs := make([]model.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := r.Get(ctx, id)
		if err != nil {
			_ = r.redisClient.SRem(ctx, ownerKey, id).Err()
			continue
		}
		convs = append(convs, *conv)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}
