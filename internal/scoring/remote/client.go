package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"EstateChain/internal/protocol"
	"EstateChain/internal/scoring"
	"EstateChain/pkg/logger"
)

const defaultTimeout = 5 * time.Second

// Config 描述远端欺诈识别模型的访问方式。
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Screener 调用外部推理服务完成欺诈识别，用于替换规则初筛。
// 远端不可用时退回本地规则，保证 Screen 的调用方契约不变。
type Screener struct {
	url        string
	apiKey     string
	httpClient *http.Client
	fallback   scoring.FraudScreener
}

// NewScreener 根据配置创建远端欺诈识别客户端。
func NewScreener(cfg Config) (*Screener, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("未提供模型推理地址")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Screener{
		url:        strings.TrimRight(url, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		fallback:   scoring.RuleScreener{},
	}, nil
}

// Screen 实现 scoring.FraudScreener 接口。
func (s *Screener) Screen(listing protocol.Listing) bool {
	flagged, err := s.screen(context.Background(), listing)
	if err != nil {
		logger.L().Warn("远端欺诈识别不可用，退回规则初筛",
			slog.Any("error", err),
			slog.String("seller", listing.Seller),
		)
		return s.fallback.Screen(listing)
	}
	return flagged
}

func (s *Screener) screen(ctx context.Context, listing protocol.Listing) (bool, error) {
	payload, err := json.Marshal(map[string]any{
		"price":     listing.Price,
		"area_sqm":  listing.AreaSqM,
		"location":  listing.Location,
		"bedrooms":  listing.Bedrooms,
		"bathrooms": listing.Bathrooms,
	})
	if err != nil {
		return false, fmt.Errorf("序列化识别请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/v1/fraud/score", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("构建识别请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("请求识别服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return false, fmt.Errorf("识别服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Flagged bool `json:"flagged"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, fmt.Errorf("解析识别响应失败: %w", err)
	}
	return decoded.Flagged, nil
}
