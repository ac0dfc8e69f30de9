package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iabetor/narrator/internal/logger"
)

// storedTextLimit 索引中保存的原文最大 rune 数。
const storedTextLimit = 200

// evictTargetPercent 触发淘汰后缓存收缩到的容量百分比。
const evictTargetPercent = 80

// Entry 缓存索引中的一条记录。
type Entry struct {
	CacheKey     string
	Text         string // 截断保存的原文
	Provider     string
	Voice        string
	Language     string
	Duration     float64 // 音频时长（秒）
	Size         int64   // 音频文件大小（字节）
	AccessCount  int64
	CreatedAt    time.Time
	LastAccessed time.Time
	Metadata     map[string]string
	AudioPath    string // 缓存目录中的音频文件路径
}

// Stats 缓存运行统计。
type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	Entries    int64
	TotalBytes int64
}

// Cache 管理合成结果的持久化缓存。
// 索引存放在缓存目录下的 SQLite 数据库中，音频文件以
// <cache_key>.mp3 命名存放在同一目录。所有索引变更在返回前
// 同步落盘，目录里的数据库是指纹的唯一权威来源。
type Cache struct {
	mu       sync.Mutex
	db       *sql.DB
	dir      string
	maxBytes int64 // 0 表示禁用缓存

	hits      int64
	misses    int64
	evictions int64

	// 指纹级别的串行化锁，防止相同指纹的并发合成重复写入
	keyMu    sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// New 创建缓存管理器。
// dir 为缓存目录，maxBytes 为容量上限（字节），0 表示禁用缓存。
func New(dir string, maxBytes int64) (*Cache, error) {
	c := &Cache{
		dir:      dir,
		maxBytes: maxBytes,
		keyLocks: make(map[string]*sync.Mutex),
	}

	if maxBytes == 0 {
		// 缓存被禁用
		return c, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建缓存目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("打开缓存索引失败: %w", err)
	}

	// WAL 模式（更好的并发性能）
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	c.db = db

	// 校验索引：移除音频文件已不存在的条目
	c.validateIndex()

	return c, nil
}

// migrate 创建缓存索引表。
func migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS narration_cache (
			cache_key TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			provider TEXT NOT NULL,
			voice TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			duration REAL NOT NULL DEFAULT 0,
			size INTEGER NOT NULL DEFAULT 0,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_narration_cache_last_accessed
			ON narration_cache(last_accessed)`,
		`CREATE INDEX IF NOT EXISTS idx_narration_cache_access_count
			ON narration_cache(access_count)`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("缓存索引迁移失败: %w", err)
		}
	}
	return nil
}

// Enabled 返回缓存是否启用。
func (c *Cache) Enabled() bool {
	return c.maxBytes > 0
}

// Dir 返回缓存目录路径。
func (c *Cache) Dir() string {
	return c.dir
}

// FilePath 返回指纹对应的缓存音频文件路径。
func (c *Cache) FilePath(cacheKey string) string {
	return filepath.Join(c.dir, cacheKey+".mp3")
}

// LockKey 获取指纹级别的互斥锁，返回解锁函数。
// 同一指纹的查询-合成-写入序列在此锁内串行执行。
func (c *Cache) LockKey(cacheKey string) func() {
	c.keyMu.Lock()
	lock, ok := c.keyLocks[cacheKey]
	if !ok {
		lock = &sync.Mutex{}
		c.keyLocks[cacheKey] = lock
	}
	c.keyMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Lookup 按（文本, provider, voice, language）查找缓存。
// 命中时更新访问计数和时间并返回条目；索引里有记录但音频文件
// 已丢失时静默清除该记录并按未命中处理。
func (c *Cache) Lookup(text, provider, voice, language string) (*Entry, bool) {
	if !c.Enabled() {
		return nil, false
	}

	key := Fingerprint(text, provider, voice, language)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.getLocked(key)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.Warnf("[cache] 查询索引失败: %v", err)
		}
		c.misses++
		return nil, false
	}

	// 确认音频文件仍然存在，否则清除失效条目
	audioPath := c.FilePath(key)
	if _, err := os.Stat(audioPath); err != nil {
		logger.Infof("[cache] 音频文件已丢失，清除失效条目: %s", key)
		c.deleteLocked(key)
		c.misses++
		return nil, false
	}

	now := time.Now()
	if _, err := c.db.Exec(
		`UPDATE narration_cache SET access_count = access_count + 1, last_accessed = ? WHERE cache_key = ?`,
		now.UnixNano(), key,
	); err != nil {
		logger.Warnf("[cache] 更新访问记录失败: %v", err)
	}
	entry.AccessCount++
	entry.LastAccessed = now
	entry.AudioPath = audioPath

	c.hits++
	return entry, true
}

// Store 将合成产物写入缓存。
// 音频文件被复制进缓存目录（先写临时文件再重命名），索引同步更新，
// 之后按需执行 LRU 淘汰。返回写入后的条目。
func (c *Cache) Store(text, provider, voice, language, artifactPath string, duration float64, metadata map[string]string) (*Entry, error) {
	if !c.Enabled() {
		return nil, nil
	}

	key := Fingerprint(text, provider, voice, language)

	c.mu.Lock()
	defer c.mu.Unlock()

	audioPath := c.FilePath(key)
	size, err := copyFileAtomic(artifactPath, audioPath)
	if err != nil {
		return nil, fmt.Errorf("复制音频到缓存失败: %w", err)
	}

	metaJSON := "{}"
	if len(metadata) > 0 {
		if data, err := json.Marshal(metadata); err == nil {
			metaJSON = string(data)
		}
	}

	now := time.Now()
	_, err = c.db.Exec(
		`INSERT INTO narration_cache
			(cache_key, text, provider, voice, language, duration, size, access_count, created_at, last_accessed, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
			text = excluded.text, provider = excluded.provider,
			voice = excluded.voice, language = excluded.language,
			duration = excluded.duration, size = excluded.size,
			last_accessed = excluded.last_accessed, metadata = excluded.metadata`,
		key, truncateText(text, storedTextLimit), provider, voice, language,
		duration, size, now.UnixNano(), now.UnixNano(), metaJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("写入缓存索引失败: %w", err)
	}

	logger.Infof("[cache] 已缓存: %s (%s/%s, %.2f 秒, %d 字节)", key, provider, voice, duration, size)

	c.evictLocked()

	entry, err := c.getLocked(key)
	if err != nil {
		// 刚写入的条目可能已被淘汰（预算过小时）
		return nil, nil
	}
	entry.AudioPath = c.FilePath(key)
	return entry, nil
}

// Stats 返回缓存运行统计。
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if c.db != nil {
		c.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM narration_cache`).
			Scan(&s.Entries, &s.TotalBytes)
	}
	return s
}

// TotalBytes 返回当前缓存的音频总字节数。
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytesLocked()
}

// Clear 清空全部缓存条目和音频文件。
func (c *Cache) Clear() error {
	if !c.Enabled() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`SELECT cache_key FROM narration_cache`)
	if err != nil {
		return fmt.Errorf("读取缓存索引失败: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err == nil {
			keys = append(keys, key)
		}
	}
	rows.Close()

	for _, key := range keys {
		os.Remove(c.FilePath(key))
	}
	if _, err := c.db.Exec(`DELETE FROM narration_cache`); err != nil {
		return fmt.Errorf("清空缓存索引失败: %w", err)
	}

	logger.Infof("[cache] 缓存已清空，共删除 %d 个条目", len(keys))
	return nil
}

// Close 关闭缓存索引数据库。
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// getLocked 按指纹读取一条索引记录（调用方需持有锁）。
func (c *Cache) getLocked(key string) (*Entry, error) {
	row := c.db.QueryRow(
		`SELECT cache_key, text, provider, voice, language, duration, size, access_count, created_at, last_accessed, metadata
		 FROM narration_cache WHERE cache_key = ?`, key)

	var e Entry
	var createdAt, lastAccessed int64
	var metaJSON string
	err := row.Scan(&e.CacheKey, &e.Text, &e.Provider, &e.Voice, &e.Language,
		&e.Duration, &e.Size, &e.AccessCount, &createdAt, &lastAccessed, &metaJSON)
	if err != nil {
		return nil, err
	}

	e.CreatedAt = time.Unix(0, createdAt)
	e.LastAccessed = time.Unix(0, lastAccessed)
	if metaJSON != "" && metaJSON != "{}" {
		json.Unmarshal([]byte(metaJSON), &e.Metadata)
	}
	return &e, nil
}

// deleteLocked 删除索引记录和对应的音频文件（调用方需持有锁）。
func (c *Cache) deleteLocked(key string) {
	if err := os.Remove(c.FilePath(key)); err != nil && !os.IsNotExist(err) {
		logger.Warnf("[cache] 删除缓存文件失败: %s: %v", key, err)
	}
	if _, err := c.db.Exec(`DELETE FROM narration_cache WHERE cache_key = ?`, key); err != nil {
		logger.Warnf("[cache] 删除索引记录失败: %s: %v", key, err)
	}
}

// totalBytesLocked 返回索引记录的音频总大小（调用方需持有锁）。
func (c *Cache) totalBytesLocked() int64 {
	if c.db == nil {
		return 0
	}
	var total int64
	c.db.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM narration_cache`).Scan(&total)
	return total
}

// evictLocked 检查缓存总大小，超出预算时按 last_accessed 升序淘汰，
// 直到总大小降到预算的 80% 以下（调用方需持有锁）。
func (c *Cache) evictLocked() {
	total := c.totalBytesLocked()
	if total <= c.maxBytes {
		return
	}

	target := c.maxBytes * evictTargetPercent / 100

	rows, err := c.db.Query(
		`SELECT cache_key, size FROM narration_cache ORDER BY last_accessed ASC`)
	if err != nil {
		logger.Warnf("[cache] 读取淘汰候选失败: %v", err)
		return
	}
	type victim struct {
		key  string
		size int64
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.key, &v.size); err == nil {
			victims = append(victims, v)
		}
	}
	rows.Close()

	evicted := 0
	for _, v := range victims {
		if total <= target {
			break
		}
		c.deleteLocked(v.key)
		total -= v.size
		evicted++
	}

	if evicted > 0 {
		c.evictions += int64(evicted)
		logger.Infof("[cache] LRU 淘汰 %d 个条目，当前 %d 字节（预算 %d）", evicted, total, c.maxBytes)
	}
}

// validateIndex 启动时校验索引，移除音频文件不存在的条目。
func (c *Cache) validateIndex() {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`SELECT cache_key FROM narration_cache`)
	if err != nil {
		return
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err == nil {
			keys = append(keys, key)
		}
	}
	rows.Close()

	removed := 0
	for _, key := range keys {
		if _, err := os.Stat(c.FilePath(key)); err != nil {
			c.db.Exec(`DELETE FROM narration_cache WHERE cache_key = ?`, key)
			removed++
		}
	}

	if removed > 0 {
		logger.Infof("[cache] 索引校验：移除 %d 个无效条目", removed)
	}
	logger.Infof("[cache] 缓存已加载: %d 个条目, 目录 %s", len(keys)-removed, c.dir)
}

// copyFileAtomic 将 src 复制到 dst，先写 .tmp 再重命名。
// 返回写入的字节数。src 与 dst 相同时只返回文件大小。
func copyFileAtomic(src, dst string) (int64, error) {
	if src == dst {
		info, err := os.Stat(dst)
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmpPath := dst + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return 0, closeErr
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	return n, nil
}
