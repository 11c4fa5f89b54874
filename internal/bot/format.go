package bot

import (
	"fmt"
	"strings"

	coinid "github.com/menta2k/coin-id"
	"github.com/menta2k/coin-id/pkg/calibration"
)

func formatMeasurement(m calibration.Measurement) string {
	text := fmt.Sprintf("📏 Circle %d px = %s", m.CirclePx, m.String())
	if !m.Calibrated {
		text += "\nCalibrate first for a reliable diameter: /calibrate eur1 or eur2."
	}
	return text
}

func formatCalibration(s calibration.State) string {
	if s.ReferenceDiameterMM == 0 {
		return fmt.Sprintf("✅ Scale set to %.1f px per inch.\n%s", s.Scale, formatMeasurement(s.Measure()))
	}
	ref := fmt.Sprintf("%.2f mm", s.ReferenceDiameterMM)
	if r, ok := calibration.LookupReference(s.ReferenceKey); ok {
		ref = fmt.Sprintf("%s (%.2f mm)", r.Name, r.DiameterMM)
	}
	return fmt.Sprintf("✅ Calibrated with %s at %d px.\nScale: %.1f px per inch.", ref, s.CircleSizePx, s.Scale)
}

func formatReferences() string {
	var sb strings.Builder
	sb.WriteString("Reference coins:")
	for _, r := range calibration.References() {
		fmt.Fprintf(&sb, "\n• %s: %s, %.2f mm", r.Key, r.Name, r.DiameterMM)
	}
	return sb.String()
}

// FormatReport renders an identification report as a chat message.
func FormatReport(r *coinid.Report) string {
	var sb strings.Builder

	if !r.Found() {
		fmt.Fprintf(&sb, "❌ No identification after %d attempts. Manual verification needed.\n", len(r.Result.Attempts))
		fmt.Fprintf(&sb, "Measured diameter: %s\n", r.Measurement.String())
		sb.WriteString("Check the coin in a catalogue such as numista.com, or try a sharper photo with even lighting.")
		return sb.String()
	}

	id := r.Identification
	if r.Confirmed {
		fmt.Fprintf(&sb, "🪙 %s\n", id.Title())
		fmt.Fprintf(&sb, "✅ Confirmed by %d of %d answers.\n", r.Result.AgreementCount, len(r.Result.Attempts))
	} else {
		fmt.Fprintf(&sb, "🪙 %s (unconfirmed)\n", id.Title())
		fmt.Fprintf(&sb, "⚠️ No agreement after %d answers, this is the most frequent one (%d×).\n",
			len(r.Result.Attempts), r.Result.FallbackCount)
	}

	sb.WriteString("\n")
	writeField(&sb, "Country", id.Country)
	writeField(&sb, "Denomination", id.Denomination)
	writeField(&sb, "Ruler", id.Ruler)
	writeField(&sb, "Year", id.Year)
	writeField(&sb, "Material", id.Material)
	writeField(&sb, "Motif", id.Motif)
	writeField(&sb, "Legend", id.Legend)
	writeField(&sb, "Diameter", r.Measurement.String())

	if len(r.Links) > 0 {
		sb.WriteString("\n🔎 Verify:\n")
		for _, l := range r.Links {
			fmt.Fprintf(&sb, "• %s: %s\n", l.Name, l.URL)
		}
	}

	sb.WriteString("\n/reset starts a new analysis.")
	return sb.String()
}

func writeField(sb *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "%s: %s\n", name, value)
}
