package cache

import (
	"sort"
	"strings"
)

// similarityCandidates 参与相似度比较的候选条目数量，
// 取访问次数最多的前 N 条。
const similarityCandidates = 100

// Match 一条相似度搜索结果。
type Match struct {
	Entry      Entry
	Similarity float64
}

// Similar 在缓存中按词集 Jaccard 相似度搜索与 query 内容接近的条目。
// 只比较访问次数最多的候选条目；返回相似度不低于 threshold 的结果，
// 按相似度降序排列，最多 limit 条。精确查找不受此接口影响。
func (c *Cache) Similar(query string, threshold float64, limit int) []Match {
	if !c.Enabled() || limit <= 0 {
		return nil
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		`SELECT cache_key, text, provider, voice, language, duration, size, access_count
		 FROM narration_cache ORDER BY access_count DESC LIMIT ?`, similarityCandidates)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.CacheKey, &e.Text, &e.Provider, &e.Voice,
			&e.Language, &e.Duration, &e.Size, &e.AccessCount); err != nil {
			continue
		}

		sim := jaccard(queryTokens, tokenize(e.Text))
		if sim < threshold {
			continue
		}
		e.AudioPath = c.FilePath(e.CacheKey)
		matches = append(matches, Match{Entry: e, Similarity: sim})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// tokenize 将文本切分为小写词集。
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		tokens[field] = struct{}{}
	}
	return tokens
}

// jaccard 计算两个词集的 Jaccard 相似度 |A∩B| / |A∪B|。
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
