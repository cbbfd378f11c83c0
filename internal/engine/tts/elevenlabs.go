// SPDX-License-Identifier: MIT

package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Compile-time interface assertions.
var (
	_ Provider = (*ElevenLabs)(nil)
	_ Cloner   = (*ElevenLabs)(nil)
)

const (
	elevenBaseURL    = "https://api.elevenlabs.io/v1"
	elevenModelID    = "eleven_multilingual_v2"
	elevenOutputFmt  = "pcm_16000"
	elevenSampleRate = 16000

	// elevenDefaultVoice is "Rachel", the stock multilingual voice.
	elevenDefaultVoice = "21m00Tcm4TlvDq8ikWAM"
)

// ElevenLabs synthesizes through the ElevenLabs REST API. The top-tier
// remote engine: multilingual, instant voice cloning, best prosody.
// The dispatcher puts it first whenever a credential is present.
type ElevenLabs struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewElevenLabs creates a provider with the given API key.
func NewElevenLabs(apiKey string, timeout time.Duration) *ElevenLabs {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ElevenLabs{
		apiKey:     apiKey,
		baseURL:    elevenBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ID implements Provider.
func (e *ElevenLabs) ID() string { return "elevenlabs" }

type elevenSynthRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize implements Provider. The response is raw 16 kHz PCM which
// is wrapped into a WAV container before returning.
func (e *ElevenLabs) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	voice := req.Voice
	if voice == "" {
		voice = elevenDefaultVoice
	}

	payload, err := json.Marshal(elevenSynthRequest{Text: req.Text, ModelID: elevenModelID})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", e.baseURL, voice, elevenOutputFmt)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesis HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("elevenlabs: empty audio response")
	}
	return &Audio{WAV: wrapPCMAsWAV(pcm, elevenSampleRate), SampleRate: elevenSampleRate}, nil
}

// CloneVoice implements Cloner via instant voice cloning. The returned
// cleanup deletes the ad-hoc voice; jobs call it when synthesis is done
// so cloned voices never accumulate in the account.
func (e *ElevenLabs) CloneVoice(ctx context.Context, name, referenceWAV string) (string, func(context.Context) error, error) {
	f, err := os.Open(referenceWAV)
	if err != nil {
		return "", nil, fmt.Errorf("elevenlabs: open reference: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", name); err != nil {
		return "", nil, err
	}
	part, err := mw.CreateFormFile("files", filepath.Base(referenceWAV))
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", nil, fmt.Errorf("elevenlabs: copy reference: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/voices/add", &body)
	if err != nil {
		return "", nil, err
	}
	httpReq.Header.Set("xi-api-key", e.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("elevenlabs: clone HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", nil, fmt.Errorf("elevenlabs: clone: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var cr struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", nil, fmt.Errorf("elevenlabs: decode clone response: %w", err)
	}
	if cr.VoiceID == "" {
		return "", nil, fmt.Errorf("elevenlabs: clone returned no voice id")
	}

	cleanup := func(ctx context.Context) error {
		delReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, e.baseURL+"/voices/"+cr.VoiceID, nil)
		if err != nil {
			return err
		}
		delReq.Header.Set("xi-api-key", e.apiKey)
		delResp, err := e.httpClient.Do(delReq)
		if err != nil {
			return fmt.Errorf("elevenlabs: delete voice: %w", err)
		}
		defer delResp.Body.Close()
		if delResp.StatusCode != http.StatusOK {
			return fmt.Errorf("elevenlabs: delete voice: unexpected status %d", delResp.StatusCode)
		}
		return nil
	}
	return cr.VoiceID, cleanup, nil
}

// wrapPCMAsWAV prepends a RIFF header to raw 16-bit little-endian mono
// PCM.
func wrapPCMAsWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 0, 44+len(pcm))
	w := bytes.NewBuffer(buf)

	w.WriteString("RIFF")
	_ = binary.Write(w, binary.LittleEndian, uint32(36+len(pcm)))
	w.WriteString("WAVE")
	w.WriteString("fmt ")
	_ = binary.Write(w, binary.LittleEndian, uint32(16))
	_ = binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(w, binary.LittleEndian, uint16(channels))
	_ = binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(w, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(w, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(w, binary.LittleEndian, uint16(bitsPerSample))
	w.WriteString("data")
	_ = binary.Write(w, binary.LittleEndian, uint32(len(pcm)))
	w.Write(pcm)

	return w.Bytes()
}
