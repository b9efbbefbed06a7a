package live

import (
	"strings"

	"google.golang.org/genai"
)

const (
	defaultTemperature    = 0.7
	translatorTemperature = 0.1
	translatorBudget      = 4096
)

// BuildSetup assembles the opening message for a link with settings s.
// Translator mode trades latency for accuracy with a low temperature and a
// thinking budget.
func BuildSetup(model, systemPrompt string, s Settings) *Setup {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	temperature := float32(defaultTemperature)
	var thinking *genai.ThinkingConfig
	if s.Mode == ModeTranslator {
		temperature = translatorTemperature
		thinking = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](translatorBudget)}
	}

	return &Setup{
		Model: model,
		GenerationConfig: &genai.GenerationConfig{
			ResponseModalities: []genai.Modality{genai.ModalityAudio},
			Temperature:        genai.Ptr(temperature),
			ThinkingConfig:     thinking,
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: string(s.Voice)},
				},
			},
		},
		SystemInstruction:        genai.NewContentFromText(Instruction(systemPrompt, s.Mode), genai.RoleUser),
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
}
