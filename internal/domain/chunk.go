package domain

// Chunk is a retrieval-sized passage of a video's transcript. Chunks are derived on
// demand and never persisted.
type Chunk struct {
	Key       string  `json:"key"`
	VideoID   string  `json:"video_id"`
	Index     int     `json:"index"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Text      string  `json:"text"`
	Synthetic bool    `json:"synthetic,omitempty"`
}

// Duration returns the span covered by the chunk in seconds.
func (c Chunk) Duration() float64 {
	return c.End - c.Start
}
