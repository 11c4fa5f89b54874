package identify

import (
	"fmt"
	"strings"

	"github.com/menta2k/coin-id/pkg/calibration"
)

// SimpleTestPrompt checks whether the model can see the image at all.
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt walks the model from the overall motif down to inscriptions.
// The first %s receives the diameter line, the second the bare diameter.
const DefaultPrompt = `You are a numismatist. Analyse the coin in this image strictly hierarchically.
%s

LEVEL 1: MOTIF (what is shown?)
Identify: coat of arms, eagle, face/head, figure (standing/seated), or numeral?

LEVEL 2: STRUCTURE (how is it composed?)
- Coat of arms: shield shape? Divided, quartered? Which way do animals face?
- Face: profile or frontal? Facing direction?
- Figure: posture, clothing?

LEVEL 3: DETAILS OF THE DETAILS
- Arms content: exact symbols in EVERY field. Count elements (e.g. 3 bars, 2 lions).
- Accessories: crown (type?), sceptre, orb, scales, child, sword, blindfold?
- Physiognomy: beard (type?), glasses, hair length, distinctive features?

LEVEL 4: CONTEXT (text and numbers)
- Letters: what runs around the rim? What is in the exergue or the centre?
- Relate the characters you read to the details from level 3.

Answer ONLY with JSON:
{
  "identification": "country, denomination, ruler or republic",
  "country": "issuing country or authority",
  "denomination": "face value and unit",
  "ruler": "ruler, era or republic",
  "year": "year or period if legible, else empty",
  "motif": "main type and facing directions",
  "details": "all accessories, beard elements and arms content",
  "legend": "characters read and their meaning",
  "material": "estimated metal",
  "keywords": "precise numismatic search terms",
  "reasoning": "why this matches %s"
}
JSON only. No markdown, no code fences, no comments.`

// BuildPrompt embeds the measured diameter into the prompt template.
func BuildPrompt(template string, m calibration.Measurement) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultPrompt
	}
	line, short := DiameterLine(m)
	if !strings.Contains(template, "%s") {
		return line + "\n\n" + template
	}
	template = strings.Replace(template, "%s", line, 1)
	return strings.ReplaceAll(template, "%s", short)
}

// DiameterLine renders the diameter fact for the prompt with one decimal.
func DiameterLine(m calibration.Measurement) (line, short string) {
	short = fmt.Sprintf("%.1f mm", m.DiameterMM)
	if !m.Calibrated {
		return fmt.Sprintf("Diameter: %s (rough estimate, screen not calibrated).", short), short
	}
	return fmt.Sprintf("Diameter: %s.", short), short
}
