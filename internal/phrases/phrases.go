// Package phrases holds everything the booth says and the reply tokens it
// listens for, as data. A yaml pack can replace any field; defaults cover a
// stock install. Single language.
package phrases

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reply classifies a visitor transcript.
type Reply int

const (
	ReplyUnknown Reply = iota
	ReplyAffirmative
	ReplyNegative
)

func (r Reply) String() string {
	switch r {
	case ReplyAffirmative:
		return "affirmative"
	case ReplyNegative:
		return "negative"
	default:
		return "unknown"
	}
}

// Catalog is the booth's spoken lines plus the yes/no token sets.
type Catalog struct {
	Greetings     []string `yaml:"greetings"`
	Instructions  string   `yaml:"instructions"`
	ThanksCapture string   `yaml:"thanks_capture"`
	ThanksDecline string   `yaml:"thanks_decline"`
	Affirmative   []string `yaml:"affirmative"`
	Negative      []string `yaml:"negative"`
}

// Default returns the built-in catalog.
func Default() Catalog {
	return Catalog{
		Greetings: []string{
			"Hi there! Would you like to take a photo?",
			"Hello! Want a picture from the booth?",
		},
		Instructions:  "Great! Stand on the mark and press the big button when you are ready.",
		ThanksCapture: "Got it! Your photo is ready. Thanks for stopping by!",
		ThanksDecline: "No problem. Have a great day!",
		Affirmative:   []string{"yes", "yeah", "yep", "sure", "ok", "okay", "please"},
		Negative:      []string{"no", "nope", "not now", "later"},
	}
}

// Load returns the default catalog overlaid with the yaml pack at path.
// An empty path means defaults only.
func Load(path string) (Catalog, error) {
	cat := Default()
	if path == "" {
		cat.normalize()
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cat, fmt.Errorf("read phrase pack: %w", err)
	}
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return cat, fmt.Errorf("parse phrase pack: %w", err)
	}

	cat.normalize()
	if err := cat.Validate(); err != nil {
		return cat, fmt.Errorf("invalid phrase pack %s: %w", path, err)
	}
	return cat, nil
}

// normalize lowercases and trims the token sets; matching is
// case-insensitive by construction.
func (c *Catalog) normalize() {
	c.Affirmative = normalizeTokens(c.Affirmative)
	c.Negative = normalizeTokens(c.Negative)
}

func normalizeTokens(tokens []string) []string {
	var out []string
	for _, tok := range tokens {
		if t := strings.ToLower(strings.TrimSpace(tok)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks that the catalog can carry a whole conversation.
func (c Catalog) Validate() error {
	if len(c.Greetings) == 0 {
		return errors.New("greetings must not be empty")
	}
	for i, g := range c.Greetings {
		if strings.TrimSpace(g) == "" {
			return fmt.Errorf("greetings[%d] must not be blank", i)
		}
	}
	if strings.TrimSpace(c.Instructions) == "" {
		return errors.New("instructions must not be empty")
	}
	if strings.TrimSpace(c.ThanksCapture) == "" {
		return errors.New("thanks_capture must not be empty")
	}
	if strings.TrimSpace(c.ThanksDecline) == "" {
		return errors.New("thanks_decline must not be empty")
	}
	if len(c.Affirmative) == 0 {
		return errors.New("affirmative tokens must not be empty")
	}
	if len(c.Negative) == 0 {
		return errors.New("negative tokens must not be empty")
	}
	return nil
}

// Greeting returns the greeting variant for the n-th visit, rotating
// through the configured lines.
func (c Catalog) Greeting(n int) string {
	if len(c.Greetings) == 0 {
		return ""
	}
	if n < 0 {
		n = -n
	}
	return c.Greetings[n%len(c.Greetings)]
}

// Classify maps a raw transcript to a reply by substring containment on the
// lower-cased text. A transcript hitting both token sets counts as negative;
// when in doubt the booth must not arm the shutter.
func (c Catalog) Classify(transcript string) Reply {
	text := strings.ToLower(transcript)
	if strings.TrimSpace(text) == "" {
		return ReplyUnknown
	}
	for _, tok := range c.Negative {
		if strings.Contains(text, tok) {
			return ReplyNegative
		}
	}
	for _, tok := range c.Affirmative {
		if strings.Contains(text, tok) {
			return ReplyAffirmative
		}
	}
	return ReplyUnknown
}
