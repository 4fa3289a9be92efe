package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
)

// upsertScript reinforces an existing pattern hash or creates it and adds it
// to the project index, as one atomic step.
//
// KEYS[1] pattern hash, KEYS[2] project index set.
// ARGV: id, body, confidence, last_used_at (unix nanos).
var upsertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HINCRBY', KEYS[1], 'success_count', 1)
  local conf = tonumber(redis.call('HGET', KEYS[1], 'confidence'))
  if tonumber(ARGV[3]) > conf then
    redis.call('HSET', KEYS[1], 'confidence', ARGV[3])
  end
  redis.call('HSET', KEYS[1], 'body', ARGV[2], 'last_used_at', ARGV[4])
else
  redis.call('HSET', KEYS[1], 'id', ARGV[1], 'body', ARGV[2], 'confidence', ARGV[3],
    'success_count', 1, 'last_used_at', ARGV[4], 'created_at', ARGV[4])
  redis.call('SADD', KEYS[2], KEYS[1])
end
return redis.call('HGETALL', KEYS[1])
`)

// Redis is a schemas.PatternStore backed by Redis hashes, one per pattern,
// indexed by a set per project.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	log       *zap.Logger
}

var _ schemas.PatternStore = (*Redis)(nil)

// NewRedis wraps client and verifies the connection.
func NewRedis(ctx context.Context, client redis.UniversalClient, keyPrefix string, logger *zap.Logger) (*Redis, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = "locus:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, keyPrefix: keyPrefix, log: logger.Named("store.redis")}, nil
}

// redisBody is the part of a pattern the hash stores as one JSON field.
type redisBody struct {
	ProjectID         string                    `json:"project_id"`
	ActionText        string                    `json:"action_text"`
	ActionType        schemas.ActionType        `json:"action_type"`
	ElementDescriptor schemas.ElementDescriptor `json:"element_descriptor"`
	Selector          string                    `json:"selector"`
	LocatorKind       schemas.LocatorKind       `json:"locator_kind"`
	URLPattern        string                    `json:"url_pattern"`
	IsInModal         bool                      `json:"is_in_modal"`
	ContainerRole     string                    `json:"container_role,omitempty"`
}

func (s *Redis) patternKey(k schemas.PatternKey) string {
	h := sha256.New()
	for _, part := range []string{k.ProjectID, k.ActionText, k.URLPattern, strconv.FormatBool(k.IsInModal), k.Selector} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return s.keyPrefix + "pattern:" + hex.EncodeToString(h.Sum(nil))
}

func (s *Redis) projectKey(projectID string) string {
	return s.keyPrefix + "project:" + projectID
}

func (s *Redis) Upsert(ctx context.Context, p schemas.MemoryPattern) (schemas.MemoryPattern, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	body, err := json.Marshal(redisBody{
		ProjectID: p.ProjectID, ActionText: p.ActionText, ActionType: p.ActionType,
		ElementDescriptor: p.ElementDescriptor, Selector: p.Selector, LocatorKind: p.LocatorKind,
		URLPattern: p.URLPattern, IsInModal: p.IsInModal, ContainerRole: p.ContainerRole,
	})
	if err != nil {
		return schemas.MemoryPattern{}, fmt.Errorf("failed to encode pattern: %w", err)
	}

	keys := []string{s.patternKey(p.Key()), s.projectKey(p.ProjectID)}
	res, err := upsertScript.Run(ctx, s.client, keys, p.ID, body, p.Confidence, p.LastUsedAt.UnixNano()).StringSlice()
	if err != nil {
		return schemas.MemoryPattern{}, fmt.Errorf("failed to upsert pattern: %w", err)
	}
	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decodeHash(fields)
}

func (s *Redis) FindExact(ctx context.Context, projectID, actionText, urlPattern string, inModal bool) ([]schemas.MemoryPattern, error) {
	return s.scan(ctx, projectID, func(p schemas.MemoryPattern) bool {
		return p.ActionText == actionText && p.URLPattern == urlPattern && p.IsInModal == inModal
	})
}

func (s *Redis) FindPartial(ctx context.Context, projectID, token string, inModal bool) ([]schemas.MemoryPattern, error) {
	return s.scan(ctx, projectID, func(p schemas.MemoryPattern) bool {
		return p.IsInModal == inModal && strings.Contains(p.ActionText, token)
	})
}

func (s *Redis) ListScope(ctx context.Context, projectID string, inModal bool) ([]schemas.MemoryPattern, error) {
	return s.scan(ctx, projectID, func(p schemas.MemoryPattern) bool { return p.IsInModal == inModal })
}

func (s *Redis) Top(ctx context.Context, projectID string, limit int) ([]schemas.MemoryPattern, error) {
	out, err := s.scan(ctx, projectID, func(schemas.MemoryPattern) bool { return true })
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cleanup is not atomic across patterns; a pattern reinforced while cleanup
// runs may still be removed if it was selected before the reinforcement.
func (s *Redis) Cleanup(ctx context.Context, projectID string, minSuccess int, cutoff time.Time) (int64, error) {
	all, keys, err := s.load(ctx, projectID)
	if err != nil {
		return 0, err
	}
	var doomed []string
	for i, p := range all {
		if p.SuccessCount < minSuccess && p.LastUsedAt.Before(cutoff) {
			doomed = append(doomed, keys[i])
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(doomed))
	for i, k := range doomed {
		members[i] = k
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, doomed...)
	pipe.SRem(ctx, s.projectKey(projectID), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to clean up patterns: %w", err)
	}
	s.log.Debug("Cleaned up patterns", zap.String("project", projectID), zap.Int64("deleted", del.Val()))
	return del.Val(), nil
}

func (s *Redis) scan(ctx context.Context, projectID string, keep func(schemas.MemoryPattern) bool) ([]schemas.MemoryPattern, error) {
	all, _, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if keep(p) {
			out = append(out, p)
		}
	}
	sortByKey(out)
	schemas.RankPatterns(out)
	return out, nil
}

// load reads every pattern of a project along with its hash key. Index
// entries whose hash has vanished are skipped.
func (s *Redis) load(ctx context.Context, projectID string) ([]schemas.MemoryPattern, []string, error) {
	keys, err := s.client.SMembers(ctx, s.projectKey(projectID)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read project index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, fmt.Errorf("failed to read patterns: %w", err)
	}

	patterns := make([]schemas.MemoryPattern, 0, len(keys))
	found := make([]string, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		p, err := decodeHash(fields)
		if err != nil {
			s.log.Warn("Skipping undecodable pattern", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		patterns = append(patterns, p)
		found = append(found, keys[i])
	}
	return patterns, found, nil
}

func decodeHash(fields map[string]string) (schemas.MemoryPattern, error) {
	var body redisBody
	if err := json.Unmarshal([]byte(fields["body"]), &body); err != nil {
		return schemas.MemoryPattern{}, fmt.Errorf("failed to decode pattern body: %w", err)
	}
	p := schemas.MemoryPattern{
		ID:                fields["id"],
		ProjectID:         body.ProjectID,
		ActionText:        body.ActionText,
		ActionType:        body.ActionType,
		ElementDescriptor: body.ElementDescriptor,
		Selector:          body.Selector,
		LocatorKind:       body.LocatorKind,
		URLPattern:        body.URLPattern,
		IsInModal:         body.IsInModal,
		ContainerRole:     body.ContainerRole,
	}
	var err error
	if p.Confidence, err = strconv.Atoi(fields["confidence"]); err != nil {
		return schemas.MemoryPattern{}, fmt.Errorf("bad confidence: %w", err)
	}
	if p.SuccessCount, err = strconv.Atoi(fields["success_count"]); err != nil {
		return schemas.MemoryPattern{}, fmt.Errorf("bad success count: %w", err)
	}
	if p.LastUsedAt, err = unixNanos(fields["last_used_at"]); err != nil {
		return schemas.MemoryPattern{}, err
	}
	if p.CreatedAt, err = unixNanos(fields["created_at"]); err != nil {
		return schemas.MemoryPattern{}, err
	}
	return p, nil
}

func unixNanos(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return time.Unix(0, n).UTC(), nil
}
