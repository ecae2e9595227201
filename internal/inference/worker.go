package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/orion-homelab/orion/internal/bus"
	"github.com/orion-homelab/orion/internal/envelope"
	"github.com/orion-homelab/orion/internal/logging"
	"github.com/orion-homelab/orion/internal/messages"
)

// Runtime performs one chat completion against the local inference
// runtime (e.g. Ollama), honoring keep-alive.
type Runtime interface {
	Complete(ctx context.Context, model string, msgs []messages.ChatMessage, keepAliveSeconds int) (response string, promptTokens, completionTokens int, loadDurationMs, totalDurationMs int64, err error)
}

// HTTPRuntime is a Runtime backed by an HTTP-speaking local inference
// server exposing an Ollama-compatible /api/chat endpoint.
type HTTPRuntime struct {
	BaseURL string
	Client  *http.Client
}

type httpChatRequest struct {
	Model     string               `json:"model"`
	Messages  []messages.ChatMessage `json:"messages"`
	KeepAlive int                  `json:"keep_alive"`
	Stream    bool                 `json:"stream"`
}

type httpChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
	LoadDuration    int64 `json:"load_duration"`
	TotalDuration   int64 `json:"total_duration"`
}

// Complete implements Runtime.
func (h *HTTPRuntime) Complete(ctx context.Context, model string, msgs []messages.ChatMessage, keepAliveSeconds int) (string, int, int, int64, int64, error) {
	body, err := json.Marshal(httpChatRequest{Model: model, Messages: msgs, KeepAlive: keepAliveSeconds})
	if err != nil {
		return "", 0, 0, 0, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", 0, 0, 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, 0, 0, 0, err
	}
	defer resp.Body.Close()

	var out httpChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, 0, 0, 0, err
	}

	return out.Message.Content, out.PromptEvalCount, out.EvalCount,
		out.LoadDuration / int64(time.Millisecond), out.TotalDuration / int64(time.Millisecond), nil
}

// Worker subscribes to its per-node request stream, runs inference
// locally, and emits responses to the caller's callback stream.
type Worker struct {
	NodeID  string
	bus     *bus.Bus
	runtime Runtime
	logger  logging.Logger
}

// NewWorker creates a Worker.
func NewWorker(nodeID string, b *bus.Bus, runtime Runtime, logger logging.Logger) *Worker {
	if logger == nil {
		logger = logging.New("orion-inference-worker-" + nodeID)
	}
	return &Worker{NodeID: nodeID, bus: b, runtime: runtime, logger: logger}
}

// Run subscribes to this node's request stream until ctx is cancelled.
// Runtime failures emit a response with Error populated; they are
// never retried by the worker itself.
func (w *Worker) Run(ctx context.Context, group, consumer string) error {
	stream := w.bus.StreamName("requests:" + w.NodeID)
	return w.bus.Subscribe(ctx, messages.TypeInferenceRequest, group, consumer, func(ctx context.Context, raw []byte) error {
		var req messages.InferenceRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			w.logger.Error("failed to parse inference request", map[string]interface{}{"error": err.Error()})
			return nil
		}
		w.handle(ctx, req)
		return nil
	}, stream)
}

func (w *Worker) handle(ctx context.Context, req messages.InferenceRequest) {
	started := time.Now()
	resp, promptTokens, completionTokens, loadMs, totalMs, err := w.runtime.Complete(ctx, req.Model, req.Messages, req.KeepAliveSeconds)

	response := messages.InferenceResponse{
		Envelope:         envelope.New("orion-inference-worker-" + w.NodeID),
		RequestID:        req.RequestID,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		LoadDurationMs:   loadMs,
		TotalDurationMs:  totalMs,
	}
	if err != nil {
		response.Error = err.Error()
		response.TotalDurationMs = time.Since(started).Milliseconds()
	} else {
		response.Response = resp
	}

	if _, err := w.bus.Publish(ctx, messages.TypeInferenceResponse, response, req.Callback); err != nil {
		w.logger.Error("failed to emit inference response", map[string]interface{}{
			"request_id": req.RequestID, "error": err.Error(),
		})
	}
}
