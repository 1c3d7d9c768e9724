// Package llm はOllama互換の言語モデルAPIへのクライアントを提供する。
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// CompletionOptions は1回の生成リクエストの調整パラメータ。
// ゼロ値のフィールドにはクライアント側のデフォルトが適用される。
type CompletionOptions struct {
	Temperature float64  // 生成のランダム性。要約・翻訳では0に近い値を使う
	TopP        float64  // 0の場合は0.9
	NumPredict  int      // 生成トークン数の上限。0の場合は500
	Stop        []string // 生成を打ち切るシーケンス
}

// CompletionClient は言語モデルによるテキスト生成のインターフェースを定義する。
// 要約と翻訳の両方がこのポートを通じてモデルを呼び出す。
type CompletionClient interface {
	// Complete はプロンプトに対する生成結果を返す。
	// 呼び出しはレート制御とタイムアウトの対象となる。
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)

	// Healthy はモデルAPIが応答可能かを確認する。
	Healthy(ctx context.Context) error
}

// generatePayload はOllamaの/api/generateへのリクエストボディ。
type generatePayload struct {
	Model     string          `json:"model"`
	Prompt    string          `json:"prompt"`
	Options   generateOptions `json:"options"`
	KeepAlive int             `json:"keep_alive"`
	Stream    bool            `json:"stream"`
}

type generateOptions struct {
	Stop          []string `json:"stop,omitempty"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	NumPredict    int      `json:"num_predict"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	NumCtx        int      `json:"num_ctx"`
}

// generateResponse はOllamaの/api/generateの非ストリーミング応答。
type generateResponse struct {
	Model      string `json:"model"`
	Response   string `json:"response"`
	DoneReason string `json:"done_reason"`
	Done       bool   `json:"done"`
}

// Client はCompletionClientのHTTP実装。
// モデルの推論は重いため、リクエスト間に最小間隔を空けるレート制御を行う。
type Client struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient はClientを生成する。
// minIntervalはリクエスト間の最小間隔で、0以下の場合はレート制御を行わない。
func NewClient(baseURL, model string, timeout, minInterval time.Duration, logger *slog.Logger) *Client {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// Complete はプロンプトに対する生成結果を返す。
// 応答はタグ除去と空行除去のクリーニングを施してから返される。
func (c *Client) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("レート制御の待機が中断されました: %w", err)
	}

	if opts.TopP == 0 {
		opts.TopP = 0.9
	}
	if opts.NumPredict == 0 {
		opts.NumPredict = 500
	}

	payload := generatePayload{
		Model:     c.model,
		Prompt:    prompt,
		Stream:    false,
		KeepAlive: -1,
		Options: generateOptions{
			Temperature:   opts.Temperature,
			TopP:          opts.TopP,
			NumPredict:    opts.NumPredict,
			RepeatPenalty: 1.0,
			NumCtx:        8192,
			Stop:          opts.Stop,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("リクエストボディのシリアライズに失敗しました: %w", err)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxWithTimeout, http.MethodPost,
		c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("言語モデルAPIへリクエストを送信します",
		"model", c.model, "prompt_length", len(prompt))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("言語モデルAPIへのリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("言語モデルAPIが異常ステータスを返しました: %s: %s",
			resp.Status, string(respBody))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("応答ボディの読み取りに失敗しました: %w", err)
	}

	var generated generateResponse
	if err := json.Unmarshal(respBody, &generated); err != nil {
		return "", fmt.Errorf("応答のデシリアライズに失敗しました: %w", err)
	}

	if !generated.Done {
		c.logger.Warn("言語モデルの応答が完了状態ではありません",
			"done_reason", generated.DoneReason)
	}

	return cleanResponse(generated.Response), nil
}

// Healthy はモデルAPIが応答可能かを確認する。
func (c *Client) Healthy(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxWithTimeout, http.MethodGet,
		c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ヘルスチェックリクエストの作成に失敗しました: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("言語モデルAPIに到達できません: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("言語モデルAPIのヘルスチェックが失敗しました: %s", resp.Status)
	}
	return nil
}

// cleanResponse は生成結果からチャットテンプレートのタグと
// モデルが付加しがちな前置きの装飾行を取り除く。行の構造は維持する。
func cleanResponse(content string) string {
	content = strings.ReplaceAll(content, "<|system|>", "")
	content = strings.ReplaceAll(content, "<|user|>", "")
	content = strings.ReplaceAll(content, "<|assistant|>", "")
	content = strings.ReplaceAll(content, "<end_of_turn>", "")

	// 推論タグごと除去する
	if startIdx := strings.Index(content, "<think>"); startIdx != -1 {
		if endIdx := strings.Index(content, "</think>"); endIdx != -1 {
			content = content[:startIdx] + content[endIdx+len("</think>"):]
		}
	}

	lines := strings.Split(content, "\n")
	cleanLines := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "---") {
			continue
		}
		cleanLines = append(cleanLines, trimmed)
	}

	return strings.TrimSpace(strings.Join(cleanLines, "\n"))
}

var _ CompletionClient = (*Client)(nil)
