// Package speech synthesizes reply text into audio through the Fish Audio
// TTS API.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.fish.audio"
	defaultModelID = "0098edd06ff54679ae52c74556b048fa"
	defaultTimeout = 30 * time.Second
)

// Client calls the Fish Audio /v1/tts endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	modelID    string
	httpClient *http.Client
}

// NewClient returns a Client. Empty baseURL and modelID use the defaults.
func NewClient(apiKey, baseURL, modelID string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if modelID == "" {
		modelID = defaultModelID
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		modelID:    modelID,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type prosody struct {
	Speed  float64 `json:"speed"`
	Volume float64 `json:"volume"`
}

type ttsRequest struct {
	Text        string  `json:"text"`
	ReferenceID string  `json:"reference_id"`
	ChunkLength int     `json:"chunk_length"`
	Normalize   bool    `json:"normalize"`
	Format      string  `json:"format"`
	MP3Bitrate  int     `json:"mp3_bitrate"`
	Latency     string  `json:"latency"`
	Streaming   bool    `json:"streaming"`
	Prosody     prosody `json:"prosody"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// Synthesize returns MP3 audio for text.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(ttsRequest{
		Text:        text,
		ReferenceID: c.modelID,
		ChunkLength: 200,
		Normalize:   true,
		Format:      "mp3",
		MP3Bitrate:  128,
		Latency:     "normal",
		Prosody:     prosody{Speed: 1.0},
		Temperature: 0.7,
		TopP:        0.9,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tts: unexpected status %d: %s", resp.StatusCode, string(msg))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tts audio: %w", err)
	}
	return audio, nil
}

// SynthesizeDataURL returns the audio as a data:audio/mp3;base64 URL.
func (c *Client) SynthesizeDataURL(ctx context.Context, text string) (string, error) {
	audio, err := c.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	return DataURL(audio), nil
}

// DataURL encodes MP3 bytes as a data URL.
func DataURL(audio []byte) string {
	return "data:audio/mp3;base64," + base64.StdEncoding.EncodeToString(audio)
}
