// Package voice は音声合成・音声認識・音声一覧のエンドポイントが使用するサービスを提供する。
// 現在は外部の音声APIを呼ばず、定型データを返すスタブ実装のみを持つ。
package voice

import (
	"context"
	"strings"

	"github.com/hitoshi/farha/internal/model"
)

// DefaultVoiceID はvoice_id未指定時に使用する音声ID（Rachel）。
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

// defaultFilename はアップロードファイル名が空の場合に使用する名前。
const defaultFilename = "unknown.audio"

// maxTTSTextLength は音声合成テキストの最大文字数（rune単位）。
const maxTTSTextLength = 5000

// Voice は選択可能な音声を表す。
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// TTSSettings は音声合成の調整パラメータ。未指定の項目は既定値で補完される。
type TTSSettings struct {
	Stability       *float64
	SimilarityBoost *float64
	Style           *float64
	UseSpeakerBoost *bool
}

// TTSRequest は音声合成の入力。
type TTSRequest struct {
	Text     string
	VoiceID  string
	Settings TTSSettings
}

// ResolvedSettings は既定値で補完済みの音声合成パラメータ。
type ResolvedSettings struct {
	Stability       float64
	SimilarityBoost float64
	Style           float64
	UseSpeakerBoost bool
}

// TTSResult は音声合成の結果。
type TTSResult struct {
	AudioURL string
	Text     string
	VoiceID  string
	Settings ResolvedSettings
}

// STTResult は音声認識の結果。
type STTResult struct {
	TranscribedText string
	Filename        string
}

// Synthesizer はテキストを音声に変換する。
type Synthesizer interface {
	Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error)
}

// Transcriber は音声をテキストに変換する。
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (*STTResult, error)
}

// Catalog は選択可能な音声の一覧を返す。
type Catalog interface {
	Voices(ctx context.Context) ([]Voice, error)
}

// StubService は定型データを返す Synthesizer / Transcriber / Catalog の実装。
type StubService struct{}

// NewStubService はStubServiceを生成する。
func NewStubService() *StubService {
	return &StubService{}
}

var premadeVoices = []Voice{
	{ID: DefaultVoiceID, Name: "Rachel", Category: "premade"},
	{ID: "AZnzlk1XvdvUeBnXmlld", Name: "Domi", Category: "premade"},
	{ID: "EXAVITQu4vr4xnSDxMaL", Name: "Bella", Category: "premade"},
}

// Synthesize は空の音声データURLを返す。
func (s *StubService) Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewInternalError(err)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, model.NewInvalidRequestError("text is required")
	}
	if len([]rune(text)) > maxTTSTextLength {
		return nil, model.NewInvalidRequestError("text is too long")
	}

	settings, err := resolveSettings(req.Settings)
	if err != nil {
		return nil, err
	}

	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}

	return &TTSResult{
		AudioURL: "data:audio/mpeg;base64,",
		Text:     text,
		VoiceID:  voiceID,
		Settings: settings,
	}, nil
}

// Transcribe は固定の認識結果を返す。
func (s *StubService) Transcribe(ctx context.Context, filename string, _ []byte) (*STTResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewInternalError(err)
	}
	if filename == "" {
		filename = defaultFilename
	}
	return &STTResult{
		TranscribedText: "Hello F.A.R.H.A",
		Filename:        filename,
	}, nil
}

// Voices はプリセット音声の一覧を返す。
func (s *StubService) Voices(_ context.Context) ([]Voice, error) {
	out := make([]Voice, len(premadeVoices))
	copy(out, premadeVoices)
	return out, nil
}

// resolveSettings は未指定項目を既定値で補完し、範囲外の値を拒否する。
func resolveSettings(in TTSSettings) (ResolvedSettings, error) {
	out := ResolvedSettings{
		Stability:       0.7,
		SimilarityBoost: 0.8,
		Style:           0.3,
		UseSpeakerBoost: true,
	}
	fields := []struct {
		name string
		in   *float64
		out  *float64
	}{
		{"stability", in.Stability, &out.Stability},
		{"similarity_boost", in.SimilarityBoost, &out.SimilarityBoost},
		{"style", in.Style, &out.Style},
	}
	for _, f := range fields {
		if f.in == nil {
			continue
		}
		if *f.in < 0 || *f.in > 1 {
			return ResolvedSettings{}, model.NewInvalidRequestError(f.name + " must be between 0 and 1")
		}
		*f.out = *f.in
	}
	if in.UseSpeakerBoost != nil {
		out.UseSpeakerBoost = *in.UseSpeakerBoost
	}
	return out, nil
}

var (
	_ Synthesizer = (*StubService)(nil)
	_ Transcriber = (*StubService)(nil)
	_ Catalog     = (*StubService)(nil)
)
