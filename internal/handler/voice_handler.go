package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/farha/internal/model"
	"github.com/hitoshi/farha/internal/voice"
)

const (
	// maxAudioUploadSize は音声アップロードの上限。
	maxAudioUploadSize = 25 << 20
	// multipartMemory はmultipartフォームをメモリに保持する上限。超過分は一時ファイルに退避される。
	multipartMemory = 8 << 20
)

// VoiceServiceInterface は音声ハンドラーが必要とするサービスインターフェース。
type VoiceServiceInterface interface {
	voice.Synthesizer
	voice.Transcriber
	voice.Catalog
}

// VoiceHandler は音声合成・音声認識のHTTPハンドラー。
type VoiceHandler struct {
	service VoiceServiceInterface
}

// NewVoiceHandler はVoiceHandlerを生成する。
func NewVoiceHandler(service VoiceServiceInterface) *VoiceHandler {
	return &VoiceHandler{service: service}
}

// ttsRequest は音声合成リクエストのボディ。
type ttsRequest struct {
	Text            string   `json:"text"`
	VoiceID         string   `json:"voice_id"`
	Stability       *float64 `json:"stability"`
	SimilarityBoost *float64 `json:"similarity_boost"`
	Style           *float64 `json:"style"`
	UseSpeakerBoost *bool    `json:"use_speaker_boost"`
}

// ttsResponse は音声合成のAPIレスポンス。
type ttsResponse struct {
	AudioURL string `json:"audio_url"`
	Text     string `json:"text"`
	VoiceID  string `json:"voice_id"`
}

// sttResponse は音声認識のAPIレスポンス。
type sttResponse struct {
	TranscribedText string `json:"transcribed_text"`
	Filename        string `json:"filename"`
}

// TextToSpeech はテキストを音声に変換する。
// POST /api/voice/tts
func (h *VoiceHandler) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	if currentUser(w, r) == nil {
		return
	}

	var req ttsRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, apiErr)
		return
	}

	result, err := h.service.Synthesize(r.Context(), voice.TTSRequest{
		Text:    req.Text,
		VoiceID: req.VoiceID,
		Settings: voice.TTSSettings{
			Stability:       req.Stability,
			SimilarityBoost: req.SimilarityBoost,
			Style:           req.Style,
			UseSpeakerBoost: req.UseSpeakerBoost,
		},
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ttsResponse{
		AudioURL: result.AudioURL,
		Text:     result.Text,
		VoiceID:  result.VoiceID,
	})
}

// SpeechToText はアップロードされた音声をテキストに変換する。
// POST /api/voice/stt (multipart/form-data, field: audio_file)
func (h *VoiceHandler) SpeechToText(w http.ResponseWriter, r *http.Request) {
	if currentUser(w, r) == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeAPIErrorResponse(w, model.NewInvalidRequestError("audio file is too large"))
			return
		}
		writeAPIErrorResponse(w, model.NewInvalidRequestError("multipart/form-data with audio_file is required"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		writeAPIErrorResponse(w, model.NewInvalidRequestError("audio_file is required"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		handleServiceError(w, r, model.NewInternalError(err))
		return
	}

	result, err := h.service.Transcribe(r.Context(), header.Filename, audio)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sttResponse{
		TranscribedText: result.TranscribedText,
		Filename:        result.Filename,
	})
}

// Voices は選択可能な音声の一覧を返す。
// GET /api/voice/voices
func (h *VoiceHandler) Voices(w http.ResponseWriter, r *http.Request) {
	if currentUser(w, r) == nil {
		return
	}

	voices, err := h.service.Voices(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]voice.Voice{"voices": voices})
}
