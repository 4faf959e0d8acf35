package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pribylovaa/rag-gateway/internal/models"
)

// Predict выполняет синхронное предсказание по входному тексту.
func (s *Service) Predict(ctx context.Context, inputText string) (*models.Prediction, error) {
	const op = "service.inference.Predict"

	if strings.TrimSpace(inputText) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	prediction, err := s.inference.Predict(ctx, inputText)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapUpstream(err))
	}

	return prediction, nil
}

// Generate запускает потоковую генерацию по входному тексту.
//
// Таксономия сервиса применяется только к синхронной фазе (до начала
// потока): ошибка внутри уже открытого потока приходит событием канала,
// когда статус ответа клиенту отправлен и пересматривать его поздно.
func (s *Service) Generate(ctx context.Context, inputText string, predictionData map[string]any) (<-chan models.GenerateEvent, error) {
	const op = "service.inference.Generate"

	if strings.TrimSpace(inputText) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	events, err := s.inference.Generate(ctx, inputText, predictionData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapUpstream(err))
	}

	return events, nil
}
