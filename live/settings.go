package live

import (
	"fmt"
	"strings"
)

type Voice string

const (
	VoiceZephyr Voice = "Zephyr"
	VoicePuck   Voice = "Puck"
	VoiceCharon Voice = "Charon"
	VoiceKore   Voice = "Kore"
	VoiceFenrir Voice = "Fenrir"
)

var voices = []Voice{VoiceZephyr, VoicePuck, VoiceCharon, VoiceKore, VoiceFenrir}

func Voices() []Voice { return append([]Voice(nil), voices...) }

// ParseVoice matches a prebuilt voice name case-insensitively.
func ParseVoice(s string) (Voice, error) {
	for _, v := range voices {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown voice %q", s)
}

type Mode string

const (
	ModeStandard   Mode = "standard"
	ModeTranslator Mode = "translator"
	ModeCrisis     Mode = "crisis_support"
)

var modes = []Mode{ModeStandard, ModeTranslator, ModeCrisis}

func Modes() []Mode { return append([]Mode(nil), modes...) }

func ParseMode(s string) (Mode, error) {
	for _, m := range modes {
		if strings.EqualFold(string(m), s) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Settings are fixed for the lifetime of one link.
type Settings struct {
	Voice Voice
	Mode  Mode
}

func (s Settings) Validate() error {
	if _, err := ParseVoice(string(s.Voice)); err != nil {
		return err
	}
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	return nil
}
