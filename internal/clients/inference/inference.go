// inference реализует clients.Inference поверх HuggingFace Inference API.
//
// Синхронное предсказание — обычный POST на {api_url}/{model}; потоковая
// генерация читает чанки тела ответа построчно и отдаёт их в канал событий.
//
// Перевод ошибок в сентинелы пакета clients:
//   - ошибка соединения, 429 и 5xx -> ErrUnavailable;
//   - таймаут -> ErrTimeout;
//   - прочие 4xx (неверный ключ, неизвестная модель) -> обычная ошибка,
//     транспортом отдаётся как internal: это неверная конфигурация шлюза,
//     а не проблема аутентификации вызывающего.
package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/pribylovaa/rag-gateway/internal/clients"
	"github.com/pribylovaa/rag-gateway/internal/config"
	"github.com/pribylovaa/rag-gateway/internal/models"
	"github.com/pribylovaa/rag-gateway/internal/pkg/log"
)

// ErrNoAPIKey — ключ API не задан в конфигурации; запросы к модели невозможны.
var ErrNoAPIKey = errors.New("inference api key is not configured")

// Client — HTTP-клиент API инференса.
type Client struct {
	cfg      config.InferenceConfig
	http     *http.Client
	stream   *http.Client
	modelURL string
}

// New создаёт клиент по конфигурации.
//
// Для синхронных вызовов действует общий таймаут cfg.Timeout; для потоковых
// он ограничивает только фазу до получения заголовков — дальше временем
// жизни потока управляет контекст вызывающего.
func New(cfg config.InferenceConfig) *Client {
	base := strings.TrimRight(cfg.APIURL, "/")

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		stream:   &http.Client{Transport: tr},
		modelURL: base + "/" + url.PathEscape(cfg.Model),
	}
}

// predictPayload — тело запроса к модели.
type predictPayload struct {
	Inputs     string         `json:"inputs"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Stream     bool           `json:"stream,omitempty"`
}

// Predict выполняет синхронное предсказание.
func (c *Client) Predict(ctx context.Context, input string) (*models.Prediction, error) {
	const op = "clients.inference.Predict"

	lg := log.From(ctx)

	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoAPIKey)
	}

	body, err := json.Marshal(predictPayload{Inputs: input})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: new_request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		lg.Warn("inference_request_failed",
			slog.String("op", op),
			slog.String("model", c.cfg.Model),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", op, classify(err))
	}

	text, err := parseGenerated(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.Prediction{GeneratedText: text}, nil
}

// Generate запускает потоковую генерацию.
//
// Возвращает управление после валидации статуса ответа; чтение тела идёт в
// отдельной горутине. Канал закрывается по концу потока, событие с Err != nil
// терминально. Отмена контекста останавливает чтение.
func (c *Client) Generate(ctx context.Context, input string, params map[string]any) (<-chan models.GenerateEvent, error) {
	const op = "clients.inference.Generate"

	lg := log.From(ctx)

	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoAPIKey)
	}

	body, err := json.Marshal(predictPayload{Inputs: input, Parameters: params, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: new_request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.stream.Do(req)
	if err != nil {
		lg.Warn("inference_request_failed",
			slog.String("op", op),
			slog.String("model", c.cfg.Model),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}

	if err := checkStatus(op, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	gid := uuid.NewString()
	lg.Info("generate_stream_start",
		slog.String("generation_id", gid),
		slog.String("model", c.cfg.Model),
	)

	out := make(chan models.GenerateEvent)

	go func() {
		defer close(out)
		defer resp.Body.Close()

		chunks := 0
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for sc.Scan() {
			text, done, ok := chunkFromLine(sc.Bytes())
			if done {
				break
			}
			if !ok {
				continue
			}

			chunks++

			select {
			case out <- models.GenerateEvent{Chunk: models.GenerateChunk{Text: text}}:
			case <-ctx.Done():
				lg.Info("generate_stream_canceled",
					slog.String("generation_id", gid),
					slog.Int("chunks", chunks),
				)
				return
			}
		}

		if ctx.Err() != nil {
			lg.Info("generate_stream_canceled",
				slog.String("generation_id", gid),
				slog.Int("chunks", chunks),
			)
			return
		}

		if err := sc.Err(); err != nil {
			lg.Warn("generate_stream_broken",
				slog.String("generation_id", gid),
				slog.Int("chunks", chunks),
				slog.String("err", err.Error()),
			)

			select {
			case out <- models.GenerateEvent{Err: fmt.Errorf("%s: stream: %w", op, classify(err))}:
			case <-ctx.Done():
			}
			return
		}

		lg.Info("generate_stream_done",
			slog.String("generation_id", gid),
			slog.Int("chunks", chunks),
		)

		select {
		case out <- models.GenerateEvent{Chunk: models.GenerateChunk{Done: true}}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// checkStatus переводит не-2xx статусы ответа модели в ошибки.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%s: status=%d: %w", op, resp.StatusCode, clients.ErrUnavailable)
	}

	// 4xx кроме 429: неверный ключ, неизвестная модель и т.п. —
	// конфигурационная ошибка шлюза.
	return fmt.Errorf("%s: status=%d: %s", op, resp.StatusCode, strings.TrimSpace(string(data)))
}

// parseGenerated извлекает generated_text из синхронного ответа модели:
// массив объектов либо единичный объект.
func parseGenerated(data []byte) (string, error) {
	var arr []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) == 0 {
			return "", errors.New("empty response array")
		}
		return arr[0].GeneratedText, nil
	}

	var obj struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.GeneratedText != "" {
		return obj.GeneratedText, nil
	}

	return "", errors.New("unexpected response shape")
}

// chunkFromLine разбирает строку потокового ответа.
//
// Поддерживаются форматы:
//   - SSE-строки "data: {...}" (префикс отбрасывается, "[DONE]" завершает поток);
//   - {"token":{"text":...}} — покадровый формат text-generation-inference;
//   - [{"generated_text":...}] / {"generated_text":...} — финальный ответ целиком;
//   - прочие непустые строки передаются как есть.
func chunkFromLine(line []byte) (text string, done, ok bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", false, false
	}

	line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
	if bytes.Equal(line, []byte("[DONE]")) {
		return "", true, false
	}

	var tok struct {
		Token struct {
			Text string `json:"text"`
		} `json:"token"`
	}
	if err := json.Unmarshal(line, &tok); err == nil && tok.Token.Text != "" {
		return tok.Token.Text, false, true
	}

	if s, err := parseGenerated(line); err == nil {
		return s, false, true
	}

	return string(line), false, true
}

// classify переводит ошибку http.Client в сентинел пакета clients.
// Отмена контекста вызывающей стороной пробрасывается как context.Canceled.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return clients.ErrTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return clients.ErrTimeout
	}

	return clients.ErrUnavailable
}
