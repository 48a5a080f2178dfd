package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/martius-lab/teamproject-competition-server/internal/models"
	"github.com/martius-lab/teamproject-competition-server/pkg/logger"
)

// Channel is the redis pub/sub channel match lifecycle events are published on.
const Channel = "competition:events"

const (
	TypePlayersMatched = "players_matched"
	TypeGameFinished   = "game_finished"
)

// Event is the JSON payload published for every match lifecycle change.
// External consumers (dashboards, notification services) subscribe to these;
// the server itself never reads them back.
type Event struct {
	Type    string             `json:"type"`
	GameID  models.GameID      `json:"gameId"`
	UserIDs []int              `json:"userIds,omitempty"`
	Result  *models.GameResult `json:"result,omitempty"`
	Time    time.Time          `json:"time"`
}

// Publisher publishes match events to redis. A nil Publisher is valid and
// drops all events, so callers never need to guard for a missing redis.
type Publisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPublisher connects to redis and verifies the connection.
func NewPublisher(redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Event publisher connected to redis", "addr", opts.Addr)

	return &Publisher{client: client, logger: logger.L()}, nil
}

// PlayersMatched publishes that two users were paired into a new game.
func (p *Publisher) PlayersMatched(gameID models.GameID, user1ID, user2ID int) {
	p.publish(Event{
		Type:    TypePlayersMatched,
		GameID:  gameID,
		UserIDs: []int{user1ID, user2ID},
		Time:    time.Now(),
	})
}

// GameFinished publishes the persisted result of a finished game.
func (p *Publisher) GameFinished(result *models.GameResult) {
	p.publish(Event{
		Type:    TypeGameFinished,
		GameID:  result.GameID,
		UserIDs: []int{result.User1ID, result.User2ID},
		Result:  result,
		Time:    time.Now(),
	})
}

func (p *Publisher) publish(event Event) {
	if p == nil || p.client == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.client.Publish(ctx, Channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event", zap.String("type", event.Type), zap.Error(err))
	}
}

// Close releases the redis connection.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
