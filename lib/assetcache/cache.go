// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package assetcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/atelier-foundation/atelier-bridge/lib/clock"
	"github.com/atelier-foundation/atelier-bridge/lib/secret"
	"github.com/atelier-foundation/atelier-bridge/lib/sqlitepool"
)

// maxDownloadBytes bounds a single asset download: 1 GiB. Production
// payloads (8k HDRis, dense scanned models) run to a few hundred
// megabytes; the cap only stops a runaway response from exhausting
// memory.
const maxDownloadBytes int64 = 1 << 30

// defaultDownloadTimeout covers the whole request including body read.
// Asset downloads are large; this is deliberately generous.
const defaultDownloadTimeout = 5 * time.Minute

// indexSchema is applied to every index connection. Timestamps are
// Unix milliseconds. stored_bytes is the on-disk payload size
// (tag byte plus compressed body); size_bytes is the original.
const indexSchema = `
CREATE TABLE IF NOT EXISTS assets (
	reference    TEXT PRIMARY KEY,
	source_url   TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size_bytes   INTEGER NOT NULL,
	stored_bytes INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	accessed_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS assets_accessed_at ON assets (accessed_at);
`

// Config holds the parameters for opening an asset cache.
type Config struct {
	// Directory is the payload root. Payload files are fanned out into
	// two-character subdirectories by reference prefix. Created if it
	// does not exist. Required.
	Directory string

	// IndexPath is the SQLite index location. Defaults to index.db
	// inside Directory.
	IndexPath string

	// MaxBytes is the stored-payload budget. After every store the
	// cache trims least-recently-accessed entries until stored bytes
	// fit the budget. Zero means unlimited; use Trim for manual
	// eviction.
	MaxBytes int64

	// HTTPClient performs downloads. Defaults to a client with a
	// 5-minute timeout.
	HTTPClient *http.Client

	// Secret is the installation secret that keys reference
	// derivation. The cache borrows it for the duration of Open and
	// does not retain or close it. Required.
	Secret *secret.Buffer

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// Clock supplies access timestamps for LRU ordering. Defaults to
	// the real clock.
	Clock clock.Clock
}

// Cache is a content cache for downloaded marketplace and generated
// assets: payload files on disk keyed by obscured reference, a SQLite
// index carrying sizes and access times, and a Fetch that downloads
// only on miss.
//
// Cache is safe for concurrent use.
type Cache struct {
	directory string
	maxBytes  int64
	client    *http.Client
	refKey    *secret.Buffer
	pool      *sqlitepool.Pool
	logger    *slog.Logger
	clock     clock.Clock

	// writeMu serializes payload writes and their index rows so that
	// concurrent stores of the same reference cannot interleave.
	writeMu sync.Mutex
}

// Open prepares the cache directory, derives the reference key from
// the installation secret, and opens the index. The caller must call
// Close when done.
func Open(cfg Config) (*Cache, error) {
	if cfg.Directory == "" {
		return nil, errors.New("assetcache: Directory is required")
	}
	if cfg.Secret == nil {
		return nil, errors.New("assetcache: Secret is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultDownloadTimeout}
	}

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("assetcache: creating cache directory: %w", err)
	}

	referenceKey, err := deriveReferenceKey(cfg.Secret)
	if err != nil {
		return nil, err
	}

	indexPath := cfg.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(cfg.Directory, "index.db")
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   indexPath,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, indexSchema, nil)
		},
	})
	if err != nil {
		referenceKey.Close()
		return nil, fmt.Errorf("assetcache: opening index: %w", err)
	}

	return &Cache{
		directory: cfg.Directory,
		maxBytes:  cfg.MaxBytes,
		client:    client,
		refKey:    referenceKey,
		pool:      pool,
		logger:    logger,
		clock:     clk,
	}, nil
}

// Close releases the index pool and the derived reference key.
func (c *Cache) Close() error {
	poolErr := c.pool.Close()
	keyErr := c.refKey.Close()
	return errors.Join(poolErr, keyErr)
}

// Fetch returns the payload and content type for sourceURL, downloading
// and caching it on miss. A cache hit refreshes the entry's access time.
// An unreadable or corrupt cached payload is dropped and re-downloaded
// rather than returned.
func (c *Cache) Fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	reference := referenceFor(c.refKey, sourceURL)

	data, contentType, hit, err := c.lookup(ctx, reference, sourceURL)
	if err != nil {
		return nil, "", err
	}
	if hit {
		return data, contentType, nil
	}

	data, contentType, err = c.download(ctx, sourceURL)
	if err != nil {
		return nil, "", err
	}

	if err := c.store(ctx, reference, sourceURL, contentType, data); err != nil {
		return nil, "", err
	}

	if c.maxBytes > 0 {
		evicted, err := c.Trim(ctx, c.maxBytes)
		if err != nil {
			c.logger.Warn("asset cache trim failed",
				"error", err,
			)
		} else if evicted > 0 {
			c.logger.Info("asset cache trimmed",
				"evicted", evicted,
				"budget_bytes", c.maxBytes,
			)
		}
	}

	return data, contentType, nil
}

// lookup checks the index and payload file for reference. Index rows
// whose payload is missing or fails to decode are deleted so the next
// download repairs the entry.
func (c *Cache) lookup(ctx context.Context, reference Reference, sourceURL string) (payload []byte, contentType string, hit bool, err error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, "", false, err
	}
	defer c.pool.Put(conn)

	var (
		found            bool
		uncompressedSize int
	)
	err = sqlitex.Execute(conn,
		`SELECT content_type, size_bytes FROM assets WHERE reference = ?`,
		&sqlitex.ExecOptions{
			Args: []any{reference.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				contentType = stmt.ColumnText(0)
				uncompressedSize = stmt.ColumnInt(1)
				return nil
			},
		})
	if err != nil {
		return nil, "", false, fmt.Errorf("assetcache: index lookup: %w", err)
	}
	if !found {
		return nil, "", false, nil
	}

	stored, readErr := os.ReadFile(c.payloadPath(reference))
	if readErr == nil {
		payload, readErr = decodePayload(stored, uncompressedSize)
	}
	if readErr != nil {
		// The index and the payload disagree. Drop the entry and let
		// the caller re-download.
		c.logger.Warn("cached payload unreadable, re-downloading",
			"url", sourceURL,
			"reference", reference,
			"error", readErr,
		)
		if err := c.deleteEntry(conn, reference); err != nil {
			return nil, "", false, err
		}
		return nil, "", false, nil
	}

	err = sqlitex.Execute(conn,
		`UPDATE assets SET accessed_at = ? WHERE reference = ?`,
		&sqlitex.ExecOptions{
			Args: []any{c.clock.Now().UnixMilli(), reference.String()},
		})
	if err != nil {
		return nil, "", false, fmt.Errorf("assetcache: updating access time: %w", err)
	}

	return payload, contentType, true, nil
}

func (c *Cache) download(ctx context.Context, sourceURL string) ([]byte, string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("assetcache: building request for %s: %w", sourceURL, err)
	}

	response, err := c.client.Do(request)
	if err != nil {
		return nil, "", fmt.Errorf("assetcache: GET %s: %w", sourceURL, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("assetcache: GET %s: HTTP %d", sourceURL, response.StatusCode)
	}

	var buffer bytes.Buffer
	if _, err := io.Copy(&buffer, io.LimitReader(response.Body, maxDownloadBytes+1)); err != nil {
		return nil, "", fmt.Errorf("assetcache: GET %s: reading body: %w", sourceURL, err)
	}
	if int64(buffer.Len()) > maxDownloadBytes {
		return nil, "", fmt.Errorf("assetcache: GET %s: payload exceeds %d byte limit",
			sourceURL, maxDownloadBytes)
	}

	c.logger.Info("asset downloaded",
		"url", sourceURL,
		"bytes", buffer.Len(),
		"content_type", response.Header.Get("Content-Type"),
	)

	return buffer.Bytes(), response.Header.Get("Content-Type"), nil
}

// store writes the payload file atomically and inserts the index row.
func (c *Cache) store(ctx context.Context, reference Reference, sourceURL, contentType string, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	encoded, tag := encodePayload(data)

	if err := c.writePayload(reference, encoded); err != nil {
		return err
	}

	conn, err := c.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Put(conn)

	now := c.clock.Now().UnixMilli()
	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO assets
		 (reference, source_url, content_type, size_bytes, stored_bytes, created_at, accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				reference.String(), sourceURL, contentType,
				len(data), len(encoded), now, now,
			},
		})
	if err != nil {
		return fmt.Errorf("assetcache: indexing %s: %w", sourceURL, err)
	}

	c.logger.Debug("asset cached",
		"url", sourceURL,
		"reference", reference,
		"bytes", len(data),
		"stored_bytes", len(encoded),
		"compression", tag,
	)

	return nil
}

// writePayload writes encoded bytes to the reference's fanout path via
// temp file + rename.
func (c *Cache) writePayload(reference Reference, encoded []byte) error {
	finalPath := c.payloadPath(reference)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return fmt.Errorf("assetcache: creating payload directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(finalPath), "payload-*.tmp")
	if err != nil {
		return fmt.Errorf("assetcache: creating temp payload file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(encoded); err != nil {
		tmpFile.Close()
		return fmt.Errorf("assetcache: writing payload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("assetcache: closing temp payload file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("assetcache: renaming payload file: %w", err)
	}

	success = true
	return nil
}

// payloadPath fans references out into 256 subdirectories so no single
// directory accumulates every payload.
func (c *Cache) payloadPath(reference Reference) string {
	name := reference.String()
	return filepath.Join(c.directory, name[:2], name+".bin")
}

// deleteEntry removes the index row and payload file for reference. A
// missing payload file is not an error.
func (c *Cache) deleteEntry(conn *sqlite.Conn, reference Reference) error {
	err := sqlitex.Execute(conn,
		`DELETE FROM assets WHERE reference = ?`,
		&sqlitex.ExecOptions{
			Args: []any{reference.String()},
		})
	if err != nil {
		return fmt.Errorf("assetcache: deleting index row: %w", err)
	}
	if err := os.Remove(c.payloadPath(reference)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("assetcache: removing payload file: %w", err)
	}
	return nil
}

// Trim evicts least-recently-accessed entries until stored payload
// bytes fit the budget. Returns the number of entries evicted.
func (c *Cache) Trim(ctx context.Context, budgetBytes int64) (int, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer c.pool.Put(conn)

	var totalStored int64
	err = sqlitex.Execute(conn,
		`SELECT COALESCE(SUM(stored_bytes), 0) FROM assets`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				totalStored = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("assetcache: summing stored bytes: %w", err)
	}
	if totalStored <= budgetBytes {
		return 0, nil
	}

	// Collect victims oldest-first until the remainder fits, then
	// delete outside the iteration.
	type victim struct {
		reference   string
		storedBytes int64
	}
	var victims []victim
	excess := totalStored - budgetBytes
	err = sqlitex.Execute(conn,
		`SELECT reference, stored_bytes FROM assets ORDER BY accessed_at ASC, reference ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if excess <= 0 {
					return nil
				}
				entry := victim{
					reference:   stmt.ColumnText(0),
					storedBytes: stmt.ColumnInt64(1),
				}
				victims = append(victims, entry)
				excess -= entry.storedBytes
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("assetcache: selecting eviction victims: %w", err)
	}

	for _, entry := range victims {
		var reference Reference
		if decodeErr := reference.decodeHex(entry.reference); decodeErr != nil {
			// An undecodable reference cannot map to a payload path;
			// drop the row alone.
			c.logger.Warn("evicting index row with malformed reference",
				"reference", entry.reference,
				"error", decodeErr,
			)
			err = sqlitex.Execute(conn,
				`DELETE FROM assets WHERE reference = ?`,
				&sqlitex.ExecOptions{Args: []any{entry.reference}})
			if err != nil {
				return 0, fmt.Errorf("assetcache: deleting index row: %w", err)
			}
			continue
		}
		if err := c.deleteEntry(conn, reference); err != nil {
			return 0, err
		}
	}

	if len(victims) > 0 {
		c.logger.Debug("asset cache eviction complete",
			"evicted", len(victims),
			"stored_bytes_before", totalStored,
			"budget_bytes", budgetBytes,
		)
	}

	return len(victims), nil
}

// Stats reports cache occupancy.
type Stats struct {
	// Entries is the number of cached assets.
	Entries int

	// StoredBytes is the total on-disk payload size after compression.
	StoredBytes int64

	// PayloadBytes is the total original (uncompressed) payload size.
	PayloadBytes int64
}

// Stats returns current cache occupancy from the index.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer c.pool.Put(conn)

	var stats Stats
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*), COALESCE(SUM(stored_bytes), 0), COALESCE(SUM(size_bytes), 0) FROM assets`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.Entries = stmt.ColumnInt(0)
				stats.StoredBytes = stmt.ColumnInt64(1)
				stats.PayloadBytes = stmt.ColumnInt64(2)
				return nil
			},
		})
	if err != nil {
		return Stats{}, fmt.Errorf("assetcache: reading stats: %w", err)
	}
	return stats, nil
}
