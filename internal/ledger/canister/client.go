package canister

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "EstateChain/internal/errors"
	"EstateChain/internal/ledger"
)

const defaultTimeout = 10 * time.Second

// Config 描述访问账本 canister 所需的信息。
type Config struct {
	URL        string
	CanisterID string
	Timeout    time.Duration
}

// Client 通过 HTTP 调用外部账本，每个操作对应一次 {"method", "args"} 调用。
type Client struct {
	url        string
	canisterID string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient 根据配置创建账本客户端。
func NewClient(cfg Config) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供账本地址")
	}
	url = strings.TrimRight(url, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		url:        url,
		canisterID: strings.TrimSpace(cfg.CanisterID),
		timeout:    timeout,
		// 超时由每次调用的 context 控制，这里不再重复设置。
		httpClient: &http.Client{},
	}, nil
}

// Put 实现 ledger.Client 接口。
func (c *Client) Put(ctx context.Context, kind ledger.Kind, payload any) (string, error) {
	method, err := putMethod(kind)
	if err != nil {
		return "", err
	}
	result, err := c.call(ctx, method, []any{payload})
	if err != nil {
		return "", err
	}

	var id string
	if err := json.Unmarshal(result, &id); err == nil {
		return id, nil
	}
	var numeric json.Number
	if err := json.Unmarshal(result, &numeric); err == nil {
		return numeric.String(), nil
	}
	return "", xerrors.Wrap(ledger.CodeLedgerDecode, ledger.ErrDecode,
		fmt.Sprintf("%s 返回的 ID 无法解析", method))
}

// GetAll 实现 ledger.Client 接口，保持账本返回顺序。
func (c *Client) GetAll(ctx context.Context, kind ledger.Kind) ([]ledger.Record, error) {
	method, err := getAllMethod(kind)
	if err != nil {
		return nil, err
	}
	result, err := c.call(ctx, method, []any{})
	if err != nil {
		return nil, err
	}

	var payloads []json.RawMessage
	if err := json.Unmarshal(result, &payloads); err != nil {
		return nil, xerrors.Wrap(ledger.CodeLedgerDecode, err,
			fmt.Sprintf("%s 返回的列表无法解析", method))
	}

	records := make([]ledger.Record, 0, len(payloads))
	for _, payload := range payloads {
		records = append(records, ledger.Record{
			ID:      extractID(payload),
			Payload: payload,
		})
	}
	return records, nil
}

// Close 实现 ledger.Client 接口。
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// call 发起一次账本调用并归一化所有错误，绝不让原始错误越过边界。
func (c *Client) call(ctx context.Context, method string, args []any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"method": method,
		"args":   args,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化账本请求失败")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.url
	if c.canisterID != "" {
		endpoint = c.url + "/" + c.canisterID
	}
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(ledger.CodeLedgerTransport, err, "构建账本请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, xerrors.Wrap(ledger.CodeLedgerTimeout, err,
				fmt.Sprintf("账本调用 %s 超时", method))
		}
		return nil, xerrors.Wrap(ledger.CodeLedgerTransport, err,
			fmt.Sprintf("账本调用 %s 失败", method))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(ledger.CodeLedgerTransport,
			fmt.Sprintf("账本返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var decoded struct {
		Ok    json.RawMessage `json:"Ok"`
		Error *string         `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(ledger.CodeLedgerDecode, err, "解析账本响应失败")
	}
	if decoded.Error != nil {
		return nil, xerrors.New(ledger.CodeLedgerRejected,
			fmt.Sprintf("账本拒绝 %s: %s", method, *decoded.Error))
	}
	if decoded.Ok == nil {
		return nil, xerrors.New(ledger.CodeLedgerDecode, "账本响应缺少 Ok 字段")
	}
	return decoded.Ok, nil
}

func putMethod(kind ledger.Kind) (string, error) {
	switch kind {
	case ledger.KindProperty:
		return "addProperty", nil
	case ledger.KindTransaction:
		return "recordTransaction", nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("未知的账本记录类别: %s", kind))
	}
}

func getAllMethod(kind ledger.Kind) (string, error) {
	switch kind {
	case ledger.KindProperty:
		return "getAllProperties", nil
	case ledger.KindTransaction:
		return "getAllTransactions", nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("未知的账本记录类别: %s", kind))
	}
}

func extractID(payload json.RawMessage) string {
	var probe struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	switch v := probe.ID.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
