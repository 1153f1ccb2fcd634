package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/relaychat/relay-api/internal/dto"
	"github.com/relaychat/relay-api/internal/observability"
	"github.com/relaychat/relay-api/internal/repository"
)

// presenceStatusScript compares the stored last_active_at against the
// incoming transition's timestamp and writes both fields in one step, so two
// nodes flipping the same user concurrently cannot interleave the check and
// the write.
var presenceStatusScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'last_active_at')
if current and tonumber(current) > tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'online', ARGV[1], 'last_active_at', ARGV[2])
return 1
`)

// PresenceService tracks online/offline plus lastActiveAt per user. State
// lives in redis so every node sees the same view; the per-user connection
// refcount is a redis INCR/DECR, atomic across processes. A user with
// several connections stays online until the last one drops.
type PresenceService interface {
	Connected(ctx context.Context, userID string) error
	Disconnected(ctx context.Context, userID string) error
	Heartbeat(ctx context.Context, userID string) error
	Snapshot(ctx context.Context, userIDs []string) ([]dto.PresenceStatus, error)
}

type presenceService struct {
	redis       *redis.Client
	directory   repository.ConversationRepository
	broadcaster *Broadcaster
	keyBase     string
	ttl         time.Duration
	logger      zerolog.Logger
}

// NewPresenceService wires presence over redis.
func NewPresenceService(redisClient *redis.Client, directory repository.ConversationRepository, broadcaster *Broadcaster, channelBase string, ttl time.Duration, logger zerolog.Logger) PresenceService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &presenceService{
		redis:       redisClient,
		directory:   directory,
		broadcaster: broadcaster,
		keyBase:     channelBase + ":presence",
		ttl:         ttl,
		logger:      logger.With().Str("component", "presence_service").Logger(),
	}
}

func (s *presenceService) connKey(userID string) string {
	return fmt.Sprintf("%s:conns:%s", s.keyBase, userID)
}

func (s *presenceService) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", s.keyBase, userID)
}

// Connected bumps the refcount; only the 0→1 transition flips the user
// online and fans the change out.
func (s *presenceService) Connected(ctx context.Context, userID string) error {
	count, err := s.redis.Incr(ctx, s.connKey(userID)).Result()
	if err != nil {
		return err
	}
	if err := s.redis.Expire(ctx, s.connKey(userID), s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to refresh presence refcount ttl")
	}

	now := time.Now().UTC()
	if err := s.writeStatus(ctx, userID, true, now); err != nil {
		return err
	}

	if count == 1 {
		observability.PresenceTransitions().WithLabelValues("online").Inc()
		s.fanout(ctx, userID, dto.PresenceStatus{UserID: userID, IsOnline: true, LastActiveAt: now})
	}
	return nil
}

// Disconnected drops the refcount; only the last connection closing flips
// the user offline. A stray extra disconnect cannot push the count negative.
func (s *presenceService) Disconnected(ctx context.Context, userID string) error {
	count, err := s.redis.Decr(ctx, s.connKey(userID)).Result()
	if err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	if err := s.redis.Del(ctx, s.connKey(userID)).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear presence refcount")
	}

	now := time.Now().UTC()
	if err := s.writeStatus(ctx, userID, false, now); err != nil {
		return err
	}

	observability.PresenceTransitions().WithLabelValues("offline").Inc()
	s.fanout(ctx, userID, dto.PresenceStatus{UserID: userID, IsOnline: false, LastActiveAt: now})
	return nil
}

// Heartbeat refreshes lastActiveAt and the refcount ttl without touching
// the online flag.
func (s *presenceService) Heartbeat(ctx context.Context, userID string) error {
	if err := s.redis.Expire(ctx, s.connKey(userID), s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to refresh presence refcount ttl")
	}
	return s.redis.HSet(ctx, s.userKey(userID),
		"last_active_at", time.Now().UTC().UnixMilli(),
	).Err()
}

// Snapshot resolves presence for many users at once via a pipeline; used
// for bulk hydration when a client boots its contact list.
func (s *presenceService) Snapshot(ctx context.Context, userIDs []string) ([]dto.PresenceStatus, error) {
	pipe := s.redis.Pipeline()
	commands := make([]*redis.MapStringStringCmd, 0, len(userIDs))
	for _, userID := range userIDs {
		commands = append(commands, pipe.HGetAll(ctx, s.userKey(userID)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]dto.PresenceStatus, 0, len(userIDs))
	for i, cmd := range commands {
		status := dto.PresenceStatus{UserID: userIDs[i]}
		fields := cmd.Val()
		status.IsOnline = fields["online"] == "1"
		if millis, err := strconv.ParseInt(fields["last_active_at"], 10, 64); err == nil {
			status.LastActiveAt = time.UnixMilli(millis).UTC()
		}
		out = append(out, status)
	}
	return out, nil
}

// writeStatus is last-write-wins by timestamp: an older transition landing
// late must not overwrite a fresher one. The compare and the write run as
// one Lua call on the redis side.
func (s *presenceService) writeStatus(ctx context.Context, userID string, online bool, at time.Time) error {
	flag := "0"
	if online {
		flag = "1"
	}
	return presenceStatusScript.Run(ctx, s.redis,
		[]string{s.userKey(userID)},
		flag, at.UnixMilli(),
	).Err()
}

// fanout notifies only users who share a conversation with the changed
// user; presence never leaks to unrelated users.
func (s *presenceService) fanout(ctx context.Context, userID string, status dto.PresenceStatus) {
	contacts, err := s.directory.ContactIDs(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to resolve contacts for presence fanout")
		return
	}

	event := dto.Event{Event: dto.EventPresenceUpdate, Data: status}
	for _, contactID := range contacts {
		s.broadcaster.ToUser(ctx, contactID, event)
	}
}
