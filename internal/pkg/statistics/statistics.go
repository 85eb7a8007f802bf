package statistics

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/querystudio/querystudio/app/repository"
	"github.com/querystudio/querystudio/internal/pkg/cache"
)

const (
	CacheKeyUsersTotal         = "statistics:users:total"
	CacheKeyEntitlementsActive = "statistics:entitlements:active"
	CacheKeyEventsToday        = "statistics:billing:events:today"
	CacheExpiration            = 30 * time.Minute
)

// Data holds the cached service-level counters surfaced to admin tooling.
type Data struct {
	TotalUsers         int `json:"total_users"`
	ActiveEntitlements int `json:"active_entitlements"`
	EventsToday        int `json:"events_today"`
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// UpdateCacheIfNeeded refreshes the cached counters when the last refresh is
// older than the update interval.
func UpdateCacheIfNeeded() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	if time.Since(lastCacheUpdate) <= cacheUpdateInterval {
		return
	}
	if err := UpdateStatisticsCache(); err != nil {
		log.Errorf("statistics: cache refresh failed: %v", err)
		return
	}
	lastCacheUpdate = time.Now()
}

// UpdateStatisticsCache recomputes the counters from the database and writes
// them to Redis.
func UpdateStatisticsCache() error {
	repos := repository.GetGlobalRepositories()

	users, err := repos.User.Count()
	if err != nil {
		return err
	}
	active, err := repos.Entitlement.CountActive()
	if err != nil {
		return err
	}
	midnight := time.Now().Truncate(24 * time.Hour)
	events, err := repos.WebhookEvent.CountSince(midnight)
	if err != nil {
		return err
	}

	if err := cache.Set(CacheKeyUsersTotal, users, CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeyEntitlementsActive, active, CacheExpiration); err != nil {
		return err
	}
	return cache.Set(CacheKeyEventsToday, events, CacheExpiration)
}

// GetStatistics returns the cached counters, refreshing the cache when it is
// stale or missing.
func GetStatistics() Data {
	UpdateCacheIfNeeded()

	return Data{
		TotalUsers:         readCachedInt(CacheKeyUsersTotal),
		ActiveEntitlements: readCachedInt(CacheKeyEntitlementsActive),
		EventsToday:        readCachedInt(CacheKeyEventsToday),
	}
}

func readCachedInt(key string) int {
	n, err := cache.GetInt(key)
	if err != nil {
		if err != redis.Nil {
			log.Errorf("statistics: read %s failed: %v", key, err)
		}
		return 0
	}
	return n
}
