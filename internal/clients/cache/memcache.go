package cache

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
)

const (
	submissionsPrefix = "submissions:"
	generationPrefix  = "submissions-gen:"
	defaultTTL        = 10 * time.Minute
)

type itemStore interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Add(item *memcache.Item) error
	Delete(key string) error
	Increment(key string, delta uint64) (uint64, error)
}

type config interface {
	Hosts() []string
	TTL() time.Duration
}

// cachedSubmissions is only served while Generation matches the user's
// current generation. InvalidateSubmissions bumps the generation, so a list
// read before an invalidation and written after it is never returned.
type cachedSubmissions struct {
	Generation  uint64                  `json:"generation"`
	Submissions []submission.Submission `json:"submissions"`
}

type MemcacheClient struct {
	client itemStore
	ttl    time.Duration
	now    func() time.Time
}

func NewMemcache(config config) (*MemcacheClient, error) {
	logger.Info("memcached hosts", zap.Strings("hosts", config.Hosts()))
	mc := memcache.New(config.Hosts()...)
	return newMemcacheClient(mc, config.TTL()), mc.Ping()
}

func newMemcacheClient(client itemStore, ttl time.Duration) *MemcacheClient {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemcacheClient{client: client, ttl: ttl, now: time.Now}
}

// normalize keeps keys within memcached's charset: no spaces or control
// characters.
func normalize(email string) string {
	return strings.ToLower(strings.Join(strings.Fields(email), ""))
}

func formatKey(email string) string {
	return submissionsPrefix + normalize(email)
}

func generationKey(email string) string {
	return generationPrefix + normalize(email)
}

// generation returns the user's current list generation, creating it when
// absent. New generations are seeded from the clock so a key recreated after
// eviction does not repeat an old value.
func (mc *MemcacheClient) generation(email string) (uint64, error) {
	key := generationKey(email)
	for attempt := 0; attempt < 2; attempt++ {
		item, err := mc.client.Get(key)
		if err == nil {
			gen, err := strconv.ParseUint(strings.TrimSpace(string(item.Value)), 10, 64)
			if err != nil {
				return 0, errors.Wrap(err, "parse submissions generation")
			}
			return gen, nil
		}
		if !errors.Is(err, memcache.ErrCacheMiss) {
			return 0, err
		}

		seed := uint64(mc.now().UnixNano())
		err = mc.client.Add(&memcache.Item{Key: key, Value: []byte(strconv.FormatUint(seed, 10))})
		if err == nil {
			return seed, nil
		}
		if !errors.Is(err, memcache.ErrNotStored) {
			return 0, err
		}
	}
	return 0, errors.New("submissions generation is contended")
}

// CacheSubmissions stores the list read under generation gen.
func (mc *MemcacheClient) CacheSubmissions(email string, gen uint64, subs []submission.Submission) error {
	logger.Debug("cache submissions", zap.String("email", email), zap.Int("count", len(subs)))
	raw, err := json.Marshal(cachedSubmissions{Generation: gen, Submissions: subs})
	if err != nil {
		return errors.Wrap(err, "encode submissions")
	}
	return mc.client.Set(&memcache.Item{
		Key:        formatKey(email),
		Value:      raw,
		Expiration: int32(mc.ttl.Seconds()),
	})
}

// GetSubmissions returns the cached list together with the current
// generation. On a miss the generation is still returned when it could be
// read, so the caller can cache what it loads under it.
func (mc *MemcacheClient) GetSubmissions(email string) ([]submission.Submission, uint64, error) {
	logger.Debug("get submissions from cache", zap.String("email", email))
	gen, err := mc.generation(email)
	if err != nil {
		return nil, 0, err
	}
	item, err := mc.client.Get(formatKey(email))
	if err != nil {
		return nil, gen, err
	}
	var cached cachedSubmissions
	if err = json.Unmarshal(item.Value, &cached); err != nil {
		return nil, gen, errors.Wrap(err, "decode cached submissions")
	}
	if cached.Generation != gen {
		return nil, gen, memcache.ErrCacheMiss
	}
	return cached.Submissions, gen, nil
}

func (mc *MemcacheClient) InvalidateSubmissions(email string) error {
	logger.Info("invalidate cache", zap.String("email", email))

	if _, err := mc.client.Increment(generationKey(email), 1); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	err := mc.client.Delete(formatKey(email))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	return nil
}
