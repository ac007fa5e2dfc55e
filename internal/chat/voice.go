package chat

import (
	"os/exec"
	"strings"
)

// Speaker vocalizes text, fire and forget, independent of pipeline state.
type Speaker interface {
	Speak(text string)
}

// DetectSpeaker probes for a system text-to-speech binary and returns a
// Speaker backed by it, or nil when none is installed. Absence is not an
// error; callers degrade to silent operation.
func DetectSpeaker() Speaker {
	for _, bin := range []string{"say", "espeak", "spd-say"} {
		if path, err := exec.LookPath(bin); err == nil {
			return &execSpeaker{bin: path}
		}
	}
	return nil
}

type execSpeaker struct {
	bin string
}

func (s *execSpeaker) Speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	cmd := exec.Command(s.bin, text)
	if err := cmd.Start(); err != nil {
		return
	}
	go func() { _ = cmd.Wait() }()
}
