package models

// PredictRequest — тело запроса POST /predict.
type PredictRequest struct {
	InputText string `json:"input_text"`
}

// GenerateRequest — тело запроса POST /generate.
//
// PredictionData — необязательный контекст предыдущего предсказания,
// передаётся модели как дополнительные параметры генерации.
type GenerateRequest struct {
	InputText      string         `json:"input_text"`
	PredictionData map[string]any `json:"prediction_data,omitempty"`
}

// Prediction — результат синхронного предсказания.
type Prediction struct {
	GeneratedText string `json:"generated_text"`
}

// GenerateChunk — один фрагмент потоковой генерации; сериализуется
// отдельной NDJSON-строкой ответа.
type GenerateChunk struct {
	Text string `json:"text"`
	Done bool   `json:"done,omitempty"`
}

// GenerateEvent — элемент канала потоковой генерации: либо очередной
// фрагмент, либо ошибка, оборвавшая поток. После события с Err != nil
// канал закрывается.
type GenerateEvent struct {
	Chunk GenerateChunk
	Err   error
}
