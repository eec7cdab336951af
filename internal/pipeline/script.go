package pipeline

import (
	"strings"
)

// Script text parsing. The reasoning service is instructed to answer in a
// line-oriented format (CHARACTERS:, SCENE n:, EDUCATIONAL_SUMMARY:); these
// helpers turn that text into the structured stage output.

func parseScript(text string) ([]Character, []Scene, string) {
	var (
		characters []Character
		scenes     []Scene
		summary    []string
		current    *Scene
		section    string
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "CHARACTERS:"):
			section = "characters"
			continue
		case strings.HasPrefix(upper, "SCENE"):
			if current != nil {
				scenes = append(scenes, *current)
			}
			current = &Scene{Number: len(scenes) + 1}
			section = "scene"
			continue
		case strings.HasPrefix(upper, "EDUCATIONAL_SUMMARY:"):
			if current != nil {
				scenes = append(scenes, *current)
				current = nil
			}
			section = "summary"
			if rest := strings.TrimSpace(line[len("EDUCATIONAL_SUMMARY:"):]); rest != "" {
				summary = append(summary, rest)
			}
			continue
		}

		switch section {
		case "characters":
			name, desc, ok := splitOnce(strings.TrimLeft(line, "-* "), ":")
			if !ok {
				name = strings.TrimLeft(line, "-* ")
			}
			if name != "" {
				characters = append(characters, Character{Name: name, Description: desc})
			}
		case "scene":
			if current == nil {
				continue
			}
			speaker, dialogue, ok := splitOnce(line, ":")
			if ok && speaker != "" && dialogue != "" {
				current.Dialogues = append(current.Dialogues, Dialogue{Character: speaker, Line: dialogue})
			}
		case "summary":
			summary = append(summary, line)
		}
	}

	if current != nil {
		scenes = append(scenes, *current)
	}
	return characters, scenes, strings.Join(summary, " ")
}

// parseObjectives extracts dash-prefixed list items.
func parseObjectives(text string) []string {
	var objectives []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
			item := strings.TrimSpace(strings.TrimLeft(line, "-* "))
			if item != "" {
				objectives = append(objectives, item)
			}
		}
	}
	return objectives
}

// parseApproval reads the review verdict line.
func parseApproval(analysis string) bool {
	return strings.Contains(strings.ToUpper(analysis), "APPROVAL: YES")
}

// parseImprovements collects suggestion lines following IMPROVEMENTS:.
func parseImprovements(analysis string) []string {
	var (
		improvements []string
		inSection    bool
	)
	for _, raw := range strings.Split(analysis, "\n") {
		line := strings.TrimSpace(raw)
		upper := strings.ToUpper(line)
		switch {
		case strings.Contains(upper, "IMPROVEMENTS:"):
			inSection = true
		case inSection && strings.HasPrefix(upper, "APPROVAL:"):
			return improvements
		case inSection && line != "":
			improvements = append(improvements, strings.TrimLeft(line, "-* "))
		}
	}
	return improvements
}

func splitOnce(s, sep string) (string, string, bool) {
	idx := strings.Index(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+len(sep):]), true
}
