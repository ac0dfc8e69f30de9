package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookPayload 批次完成后投递给回调地址的 JSON 结构。
type WebhookPayload struct {
	BatchID       string      `json:"batchId"`
	Status        BatchStatus `json:"status"`
	SuccessCount  int         `json:"successCount"`
	FailureCount  int         `json:"failureCount"`
	TotalDuration float64     `json:"totalDuration"`
	Progress      float64     `json:"progress"`
	Report        *Report     `json:"report"`
}

// WebhookClient 出站 webhook 投递客户端，请求带固定超时。
// 投递失败只记日志，不影响批次状态。
type WebhookClient struct {
	client *http.Client
}

// NewWebhookClient 创建 webhook 客户端。
func NewWebhookClient(timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Deliver 将报告 POST 到指定地址，非 2xx 响应视为失败。
func (w *WebhookClient) Deliver(url string, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化 webhook 数据失败: %w", err)
	}

	resp, err := w.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook 请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回非 2xx 状态码: %d", resp.StatusCode)
	}
	return nil
}
