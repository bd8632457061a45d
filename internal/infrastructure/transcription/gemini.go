package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"

	"github.com/recipeai/transcribe-worker/internal/domain/apperrors"
	"github.com/recipeai/transcribe-worker/internal/domain/entity"
)

const systemInstruction = `Transcribe the provided audio exactly as spoken. Respond with a single JSON
object: {"language": "<ISO 639-1 code>", "segments": [{"start": <seconds>,
"end": <seconds>, "text": "<utterance>"}]}. Segments must be ordered and
non-overlapping. Do not include any text outside the JSON object.`

var mimeByExt = map[string]string{
	".mp3":  "audio/mpeg",
	".mp4":  "audio/mp4",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".webm": "audio/webm",
}

// GeminiEngine transcribes media by sending it inline to a Gemini model and
// asking for structured JSON output, grounded on the corpus's genai
// text-generation client, extended here to multimodal audio input and
// streamed output since no retrieved example exercises either.
type GeminiEngine struct {
	client *genai.Client
	model  string
}

var _ Engine = (*GeminiEngine)(nil)

func NewGeminiEngine(ctx context.Context, apiKey, model string) (*GeminiEngine, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiEngine{client: client, model: model}, nil
}

func (e *GeminiEngine) Transcribe(ctx context.Context, mediaPath string, onProgress ProgressFunc) (Result, error) {
	data, err := os.ReadFile(mediaPath)
	if err != nil {
		return Result{}, apperrors.InvalidMedia(fmt.Sprintf("cannot read media file: %v", err))
	}

	mimeType := mimeByExt[strings.ToLower(filepath.Ext(mediaPath))]
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
		},
	}}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}

	stream := e.client.Models.GenerateContentStream(ctx, e.model, contents, config)

	var buf strings.Builder
	emitted := 0
	for chunk, streamErr := range stream {
		if streamErr != nil {
			return Result{}, apperrors.Engine(true, fmt.Sprintf("gemini stream error: %v", streamErr)).WithCause(streamErr)
		}
		buf.WriteString(extractText(chunk))
		emitted = reportCompletedSegments(buf.String(), emitted, onProgress)
	}

	parsed, err := parseTranscript(buf.String())
	if err != nil {
		return Result{}, apperrors.Engine(false, fmt.Sprintf("malformed transcription response: %v", err)).WithCause(err)
	}

	var duration float64
	for _, seg := range parsed.Segments {
		if seg.End > duration {
			duration = seg.End
		}
	}

	return Result{
		Text:         joinSegments(parsed.Segments),
		Segments:     parsed.Segments,
		Language:     parsed.Language,
		DurationSec:  int(duration),
		ModelVersion: e.model,
	}, nil
}

type transcriptPayload struct {
	Language string           `json:"language"`
	Segments []entity.Segment `json:"segments"`
}

func parseTranscript(raw string) (transcriptPayload, error) {
	var payload transcriptPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return transcriptPayload{}, err
	}
	return payload, nil
}

func joinSegments(segments []entity.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// reportCompletedSegments attempts a full parse of the buffer accumulated so
// far and reports any segments beyond alreadyEmitted. Partial JSON fails to
// parse and is silently skipped; the final chunk always succeeds, so no
// segment goes unreported, though mid-stream reporting is best-effort rather
// than per-token.
func reportCompletedSegments(buf string, alreadyEmitted int, onProgress ProgressFunc) int {
	if onProgress == nil {
		return alreadyEmitted
	}

	payload, err := parseTranscript(buf)
	if err != nil {
		return alreadyEmitted
	}

	for i := alreadyEmitted; i < len(payload.Segments); i++ {
		onProgress(payload.Segments[i].End, 0)
	}
	return len(payload.Segments)
}
