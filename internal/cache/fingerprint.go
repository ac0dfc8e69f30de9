package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintLen 是指纹的十六进制字符长度。
const fingerprintLen = 16

// Fingerprint 计算合成请求的缓存指纹。
// 相同的（归一化文本, provider, voice, language）组合始终得到相同的指纹。
func Fingerprint(text, provider, voice, language string) string {
	raw := normalizeText(text) + "|" + provider + "|" + voice + "|" + language
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// normalizeText 对文本做归一化：去除首尾空白并转为小写。
func normalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// truncateText 按 rune 截断文本，用于索引中保存原文摘要。
func truncateText(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}
