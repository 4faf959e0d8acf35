package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/pribylovaa/rag-gateway/internal/errors"
	"github.com/pribylovaa/rag-gateway/internal/models"
	logctx "github.com/pribylovaa/rag-gateway/internal/pkg/log"
	"github.com/pribylovaa/rag-gateway/internal/service"
)

// Predict — POST /predict.
//
// Принимает {"input_text": "..."} и возвращает единый ответ модели
// {"generated_text": "..."}.
func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	var in models.PredictRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, service.ErrInvalidArgument)
		return
	}

	pred, err := h.svc.Predict(r.Context(), in.InputText)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pred)
}

// Generate — POST /generate.
//
// Потоковый ответ: чанки генерации уходят клиенту построчно
// (application/x-ndjson), каждый — отдельный JSON-объект GenerateChunk.
// Ошибки ДО первого байта мапятся в обычный error-envelope; ошибка
// после начала стрима завершается терминальной строкой
// {"error":"stream interrupted"} — статус уже отправлен, менять его поздно.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	var in models.GenerateRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, service.ErrInvalidArgument)
		return
	}

	events, err := h.svc.Generate(r.Context(), in.InputText, in.PredictionData)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	lg := logctx.From(r.Context())

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w) // Encode добавляет '\n' — готовые NDJSON-строки.

	for ev := range events {
		if ev.Err != nil {
			lg.LogAttrs(r.Context(), slog.LevelWarn, "generate_stream_interrupted",
				slog.String("err", ev.Err.Error()),
			)
			_, _ = io.WriteString(w, `{"error":"stream interrupted"}`+"\n")
			if flusher != nil {
				flusher.Flush()
			}
			return
		}

		if err := enc.Encode(ev.Chunk); err != nil {
			// Клиент ушёл — дочитывать канал незачем, контекст запроса
			// отменится и закроет стрим на стороне клиента-инференса.
			lg.LogAttrs(r.Context(), slog.LevelDebug, "generate_client_gone",
				slog.String("err", err.Error()),
			)
			return
		}

		if flusher != nil {
			flusher.Flush()
		}
	}
}
