// SPDX-License-Identifier: MIT

// Package cache memoizes chunk translations on disk so repeated runs of
// the same material skip the LLM round trips.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/vodub/vodub/internal/jobs"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/metrics"
)

// minStoredScore is the quality floor: entries that scored below it are
// never served, so a bad translation cannot haunt later jobs.
const minStoredScore = 60

// keyLen truncates the hex digest. 96 bits is plenty for a cache.
const keyLen = 24

// TranslationCache is a badger-backed translation memo keyed by source
// text, language pair and sync mode.
type TranslationCache struct {
	db  *badger.DB
	ttl time.Duration
}

type entry struct {
	Translations []string  `json:"translations"`
	Score        int       `json:"score"`
	CreatedAt    time.Time `json:"created_at"`
}

// Open opens (or creates) the cache at dir. Entries expire after ttl.
func Open(dir string, ttl time.Duration) (*TranslationCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", dir, err)
	}
	return &TranslationCache{db: db, ttl: ttl}, nil
}

// Close releases the underlying store.
func (c *TranslationCache) Close() error {
	return c.db.Close()
}

// Key derives the cache key for one chunk. The sync mode participates
// because it changes the prompt's length constraint.
func Key(source, sourceLang, targetLang string, mode jobs.SyncMode) string {
	h := sha256.Sum256([]byte(source + "|" + sourceLang + "|" + targetLang + "|" + string(mode)))
	return hex.EncodeToString(h[:])[:keyLen]
}

// Lookup returns the cached translations for one chunk. Entries below
// the quality floor report a miss.
func (c *TranslationCache) Lookup(source, sourceLang, targetLang string, mode jobs.SyncMode) ([]string, bool) {
	key := []byte(Key(source, sourceLang, targetLang, mode))

	var e entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	switch {
	case err == badger.ErrKeyNotFound:
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return nil, false
	case err != nil:
		lg := log.WithComponent("cache")
		lg.Warn().Err(err).Msg("cache read failed")
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}

	if e.Score < minStoredScore {
		metrics.CacheHits.WithLabelValues("rejected").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("hit").Inc()
	return e.Translations, true
}

// Store records the translations for one chunk with its quality score.
// Low-scoring entries are stored too; they suppress identical retries
// from being served while documenting the attempt.
func (c *TranslationCache) Store(source, sourceLang, targetLang string, mode jobs.SyncMode, translations []string, score int) {
	key := []byte(Key(source, sourceLang, targetLang, mode))
	buf, err := json.Marshal(entry{
		Translations: translations,
		Score:        score,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, buf).WithTTL(c.ttl))
	})
	if err != nil {
		lg := log.WithComponent("cache")
		lg.Warn().Err(err).Msg("cache write failed")
	}
}

// Invalidate drops one chunk's entry.
func (c *TranslationCache) Invalidate(source, sourceLang, targetLang string, mode jobs.SyncMode) error {
	key := []byte(Key(source, sourceLang, targetLang, mode))
	return c.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}
