package live

import (
	"time"

	"google.golang.org/genai"
)

// Client messages. Exactly one field is set per message.
type clientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
}

type Setup struct {
	Model                    string                          `json:"model"`
	GenerationConfig         *genai.GenerationConfig         `json:"generationConfig,omitempty"`
	SystemInstruction        *genai.Content                  `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *genai.AudioTranscriptionConfig `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *genai.AudioTranscriptionConfig `json:"outputAudioTranscription,omitempty"`
}

type RealtimeInput struct {
	Audio *Blob `json:"audio,omitempty"`
}

// Blob carries base64 text, not raw bytes.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

type ServerContent struct {
	ModelTurn           *ModelTurn     `json:"modelTurn,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
}

type ModelTurn struct {
	Parts []Part `json:"parts,omitempty"`
}

type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

type Transcription struct {
	Text string `json:"text"`
}

type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// Remaining parses TimeLeft ("12.5s"); zero when absent or malformed.
func (g *GoAway) Remaining() time.Duration {
	if g == nil || g.TimeLeft == "" {
		return 0
	}
	d, err := time.ParseDuration(g.TimeLeft)
	if err != nil {
		return 0
	}
	return d
}

// Audio returns the inline audio payloads of the model turn in order.
func (c *ServerContent) Audio() []*Blob {
	if c == nil || c.ModelTurn == nil {
		return nil
	}
	var out []*Blob
	for _, p := range c.ModelTurn.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			out = append(out, p.InlineData)
		}
	}
	return out
}
