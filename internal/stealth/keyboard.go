package stealth

import (
	"context"
	"math/rand"
	"strings"
	"time"
	"unicode"
)

// Keyboard implements human-like typing with variable speed and typos
type Keyboard struct {
	rng *rand.Rand
}

// NewKeyboard creates a new Keyboard instance
func NewKeyboard(rng *rand.Rand) *Keyboard {
	return &Keyboard{rng: rng}
}

// ActionType represents the type of keyboard action
type ActionType int

const (
	ActionTypeKey ActionType = iota
	ActionTypeBackspace
	ActionTypeDelay
)

// KeyAction represents a single keyboard action
type KeyAction struct {
	Type  ActionType    // Type of action
	Key   string        // Text to emit (for ActionTypeKey)
	Delay time.Duration // Delay after this action
}

// Actions plans the keystrokes for text with:
// - Variable WPM (words per minute)
// - Occasional typos (with probability typoProb) corrected by backspace
// - Natural delays between keystrokes
//
// Replaying the actions always produces exactly text.
func (k *Keyboard) Actions(ctx context.Context, text string, wpmMin, wpmMax int, typoProb float64) ([]KeyAction, error) {
	if wpmMin < 1 {
		wpmMin = 1
	}
	if wpmMax < wpmMin {
		wpmMax = wpmMin
	}
	if typoProb < 0 {
		typoProb = 0
	}
	if typoProb > 1 {
		typoProb = 1
	}

	// Average word length is 5 characters + 1 space
	wpm := wpmMin + k.rng.Intn(wpmMax-wpmMin+1)
	baseDelayPerChar := (60.0 / float64(wpm)) / 6.0

	runes := []rune(text)
	actions := make([]KeyAction, 0, len(runes))

	for i, char := range runes {
		select {
		case <-ctx.Done():
			return actions, ctx.Err()
		default:
		}

		if i < len(runes)-1 && k.rng.Float64() < typoProb {
			if typo := k.generateTypo(char); typo != char {
				actions = append(actions,
					KeyAction{Type: ActionTypeKey, Key: string(typo), Delay: k.calculateDelay(baseDelayPerChar, char)},
					// humans notice typos quickly
					KeyAction{Type: ActionTypeDelay, Delay: time.Duration(100+k.rng.Intn(200)) * time.Millisecond},
					KeyAction{Type: ActionTypeBackspace, Delay: k.calculateDelay(baseDelayPerChar, '\b')},
				)
			}
		}

		actions = append(actions, KeyAction{
			Type:  ActionTypeKey,
			Key:   string(char),
			Delay: k.calculateDelay(baseDelayPerChar, char),
		})
	}

	return actions, nil
}

// Replay returns the text a field holds after actions are applied
func Replay(actions []KeyAction) string {
	var out []rune
	for _, a := range actions {
		switch a.Type {
		case ActionTypeKey:
			out = append(out, []rune(a.Key)...)
		case ActionTypeBackspace:
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		}
	}
	return string(out)
}

// QWERTY keyboard layout (simplified)
var keyboardLayout = map[rune]string{
	'a': "sqwzx", 'b': "vghn", 'c': "xdfv", 'd': "serfcx", 'e': "wrds",
	'f': "drtgvc", 'g': "ftyhbv", 'h': "gyujnb", 'i': "uokj", 'j': "huikmn",
	'k': "jiolm", 'l': "kop", 'm': "njk", 'n': "bhjm", 'o': "iplk",
	'p': "ol", 'q': "wa", 'r': "etfd", 's': "awedxz", 't': "rygf",
	'u': "yijh", 'v': "cfgb", 'w': "qesa", 'x': "zsdc", 'y': "tuhg",
	'z': "asx",
}

// generateTypo returns a neighbouring key, or char itself when none applies
func (k *Keyboard) generateTypo(char rune) rune {
	nearby, ok := keyboardLayout[unicode.ToLower(char)]
	if !ok {
		if char >= '1' && char <= '9' {
			return char - 1
		}
		return char
	}
	typo := rune(nearby[k.rng.Intn(len(nearby))])
	if unicode.IsUpper(char) {
		typo = unicode.ToUpper(typo)
	}
	return typo
}

// calculateDelay calculates the delay for typing a character
func (k *Keyboard) calculateDelay(baseDelay float64, char rune) time.Duration {
	// ±20% variation
	delay := baseDelay * (0.8 + k.rng.Float64()*0.4)

	switch {
	case unicode.IsSpace(char):
		delay *= 1.5 + k.rng.Float64()*0.5
	case strings.ContainsRune(".,!?;:", char):
		delay *= 1.2 + k.rng.Float64()*0.3
	case char == '\b':
		delay *= 0.7 + k.rng.Float64()*0.2
	}

	// never exact integers
	delay += k.rng.Float64() * 0.01

	return time.Duration(delay * float64(time.Second))
}
