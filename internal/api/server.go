package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"EstateChain/internal/deal"
	"EstateChain/internal/observability/metrics"
	"EstateChain/internal/protocol"
)

// Server 负责暴露 REST 网关，供外部在没有消息总线时直接驱动智能体。
type Server struct {
	addr        string
	router      *protocol.Router
	coordinator *deal.Coordinator
	identity    string
}

// NewServer 构造网关服务实例。
func NewServer(addr string, router *protocol.Router, coordinator *deal.Coordinator, identity string) *Server {
	return &Server{addr: addr, router: router, coordinator: coordinator, identity: identity}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/messages", s.handleMessages)
	mux.HandleFunc("/api/v1/deals", s.handleDeals)
	mux.HandleFunc("/metrics", s.handleMetrics)

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// messageRequest 是网关入口的请求体，payload 按 kind 解码。
type messageRequest struct {
	Kind    protocol.Kind   `json:"kind"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

// messageReply 是网关同步收集到的一条回复。
type messageReply struct {
	Kind    protocol.Kind   `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// handleMessages 将 HTTP 请求转成协议消息交给路由器，并同步收集全部回复返回。
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.router == nil {
		http.Error(w, "路由器未初始化", http.StatusServiceUnavailable)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if !req.Kind.IsInbound() {
		http.Error(w, "不支持的消息类型", http.StatusBadRequest)
		return
	}

	env := protocol.Envelope{
		ID:      r.Header.Get("X-Request-ID"),
		Kind:    req.Kind,
		Sender:  req.Sender,
		Payload: req.Payload,
	}

	var mu sync.Mutex
	var replies []messageReply
	collector := protocol.ReplierFunc(func(_ context.Context, kind protocol.Kind, payload any) error {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		mu.Lock()
		replies = append(replies, messageReply{Kind: kind, Payload: encoded})
		mu.Unlock()
		return nil
	})

	if err := s.router.Dispatch(r.Context(), env, collector); err != nil {
		// 回复已经收集到的内容，同时带上错误说明。
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   err.Error(),
			"replies": replies,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"replies": replies})
}

// handleDeals 返回最近的交易记录。
func (s *Server) handleDeals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.coordinator == nil {
		http.Error(w, "交易协调器未初始化", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	deals, err := s.coordinator.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(deals)
}

// handleMetrics 暴露消息处理指标。
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(metrics.Snapshot()))
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	// 包装处理器以检查上下文状态。
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
