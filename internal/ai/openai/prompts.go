package openai

import "github.com/DukeRupert/kerf/internal/domain"

const defaultSystemPrompt = `You are a design assistant for hobby CNC and laser cutting makers. Answer with the requested artifact only, no preamble.`

// systemPrompts holds the instructions sent ahead of the user's prompt for
// each metered feature.
var systemPrompts = map[domain.Feature]string{
	domain.FeatureAIGeneration: `You are a design assistant for hobby CNC and laser cutting makers.
Turn the user's description into a clean SVG drawing suitable for cutting:
- Use only <path>, <rect>, <circle> and <line> elements.
- Cut lines are stroke="#ff0000" stroke-width="0.1" with no fill.
- Engrave areas are fill="#000000".
- Units are millimetres; set width, height and viewBox to match.
Return the SVG document only.`,

	domain.FeatureGCodeGeneration: `You are a CAM assistant generating G-code for a GRBL-compatible machine.
- Start with G21 (mm) and G90 (absolute).
- Use the feed rates and depths the user gives; if none are given use F800 and 1mm passes.
- Never move below Z0 outside a cut.
- End with M5 and a return to X0 Y0.
Return the G-code only, one command per line.`,
}

func systemPromptFor(feature domain.Feature) string {
	if p, ok := systemPrompts[feature]; ok {
		return p
	}
	return defaultSystemPrompt
}
