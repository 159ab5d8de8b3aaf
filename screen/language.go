// Package screen holds content heuristics used to keep unwanted events out of a feed
package screen

import (
	"fmt"
	"strings"

	lingua "github.com/pemistahl/lingua-go"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Texts with fewer words than this are too short to judge their language
const minWordsForDetection = 4

// LanguageDetector decides whether a text is written in one of a set of languages
type LanguageDetector struct {
	targets  []lingua.Language
	detector lingua.LanguageDetector
}

// NewLanguageDetector builds a detector for the given ISO 639-1 codes.
// Unknown codes are an error.
func NewLanguageDetector(isoCodes []string) (*LanguageDetector, error) {
	supported := supportedLanguages()

	targets := make([]lingua.Language, 0, len(isoCodes))
	for _, code := range isoCodes {
		lang, ok := isoToLingua(strings.ToLower(code), supported)
		if !ok {
			return nil, fmt.Errorf("unsupported language code %q", code)
		}
		targets = append(targets, lang)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no languages given")
	}

	// The detector needs at least two candidates, and English is the usual
	// confusion for short posts
	candidates := lo.Uniq(append([]lingua.Language{lingua.English, lingua.German}, targets...))

	return &LanguageDetector{
		targets: targets,
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(candidates...).
			WithMinimumRelativeDistance(0.25).
			Build(),
	}, nil
}

// Matches reports whether text is in one of the target languages. Texts too
// short to judge are accepted.
func (d *LanguageDetector) Matches(text string) bool {
	if len(strings.Fields(text)) < minWordsForDetection {
		return true
	}

	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		log.WithFields(log.Fields{
			"length": len(text),
		}).Debug("Language detection inconclusive")
		return false
	}
	return lo.Contains(d.targets, lang)
}

func supportedLanguages() map[lingua.Language]string {
	languages := make(map[lingua.Language]string)
	for _, lang := range lingua.AllLanguages() {
		languages[lang] = strings.ToLower(lang.IsoCode639_1().String())
	}
	return languages
}

func isoToLingua(code string, languages map[lingua.Language]string) (lingua.Language, bool) {
	for lang, isoCode := range languages {
		if isoCode == code {
			return lang, true
		}
	}
	return lingua.Unknown, false
}
