package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"comicforge/internal/domain"
)

// Prompt builders for the reasoning port. Each returns one instruction block
// in the line-oriented format the parsers in script.go expect back.

func buildScriptPrompt(params domain.ComicParams, similar []domain.ContentMatch, patterns []domain.GenerationPattern) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create educational content about %q suitable for a %s audience in %s.\n\n",
		params.Topic, params.AgeGroup, params.Language)
	b.WriteString("Requirements:\n")
	b.WriteString("1. Create a 6-scene comic story that teaches about the topic\n")
	b.WriteString("2. Include 2-3 main characters with distinct personalities\n")
	b.WriteString("3. Each scene should have dialogue and educational content\n")
	b.WriteString("4. Make it engaging and age-appropriate\n")
	b.WriteString("5. Include factual information naturally in the dialogue\n")

	if len(params.Characters) > 0 {
		fmt.Fprintf(&b, "6. Feature these characters: %s\n", strings.Join(params.Characters, ", "))
	}
	if len(params.Objectives) > 0 {
		fmt.Fprintf(&b, "\nLearning objectives to cover:\n")
		for _, obj := range params.Objectives {
			fmt.Fprintf(&b, "- %s\n", obj)
		}
	}

	if len(similar) > 0 {
		b.WriteString("\nRelated lesson material for grounding:\n")
		for i, m := range similar {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- %s: %s\n", m.Topic, truncate(m.Body, 200))
		}
	}
	if len(patterns) > 0 {
		b.WriteString("\nTopics of recently successful comics, for tone reference: ")
		names := make([]string, 0, len(patterns))
		for _, p := range patterns {
			names = append(names, p.Topic)
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}

	b.WriteString("\nFormat your response as:\n")
	b.WriteString("CHARACTERS:\n[each character as Name: brief description]\n\n")
	b.WriteString("SCENE 1:\nCharacter Name: [Dialogue]\n\n")
	b.WriteString("[Continue for all 6 scenes]\n\n")
	b.WriteString("EDUCATIONAL_SUMMARY:\n[Key learning points covered]\n")
	return b.String()
}

func buildObjectivesPrompt(params domain.ComicParams, curriculum []domain.ContentMatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate 3-5 specific learning objectives for a %s audience learning about %q.\n\n",
		params.AgeGroup, params.Topic)
	b.WriteString("Each objective should:\n")
	b.WriteString("1. Be measurable and specific\n")
	b.WriteString("2. Use appropriate action verbs (understand, identify, explain, etc.)\n")
	fmt.Fprintf(&b, "3. Be age-appropriate for %s\n", params.AgeGroup)
	fmt.Fprintf(&b, "4. Focus on key concepts of %s\n", params.Topic)

	if len(curriculum) > 0 {
		b.WriteString("\nCurriculum references:\n")
		for i, m := range curriculum {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", truncate(m.Body, 150))
		}
	}

	b.WriteString("\nFormat as a simple list:\n- Objective 1\n- Objective 2\n")
	return b.String()
}

func buildPanelPrompt(character, dialogue, sceneContext, visualStyle string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a detailed visual prompt for generating a %s style comic panel.\n\n", visualStyle)
	fmt.Fprintf(&b, "Scene: %s\n", sceneContext)
	fmt.Fprintf(&b, "Character: %s\n", character)
	fmt.Fprintf(&b, "Dialogue: %q\n\n", dialogue)
	b.WriteString("Generate a 60-word maximum prompt that includes:\n")
	b.WriteString("- Character appearance and expression\n")
	b.WriteString("- Setting/background details\n")
	b.WriteString("- Visual style elements\n")
	b.WriteString("- Mood and atmosphere\n")
	b.WriteString("- Comic panel composition\n")
	return b.String()
}

func buildPosterPrompt(topic, visualStyle string, characters []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a compelling visual prompt for a %s style comic book cover about %q.\n\n",
		visualStyle, topic)
	fmt.Fprintf(&b, "Characters to feature: %s\n\n", strings.Join(characters, ", "))
	b.WriteString("The prompt should describe:\n")
	b.WriteString("- Dynamic composition suitable for a cover\n")
	b.WriteString("- All main characters in action or characteristic poses\n")
	b.WriteString("- Background that represents the topic\n")
	fmt.Fprintf(&b, "- %s art style elements\n\n", visualStyle)
	b.WriteString("Maximum 60 words.\n")
	return b.String()
}

func buildReviewPrompt(script, topic, ageGroup string) string {
	var b strings.Builder
	b.WriteString("Analyze this educational content for quality and appropriateness:\n\n")
	fmt.Fprintf(&b, "Topic: %s\nTarget Age Group: %s\nContent:\n%s\n\n", topic, ageGroup, script)
	b.WriteString("Evaluate on:\n")
	b.WriteString("1. Educational Value (1-10)\n")
	b.WriteString("2. Age Appropriateness (1-10)\n")
	b.WriteString("3. Engagement Level (1-10)\n")
	b.WriteString("4. Factual Accuracy (1-10)\n")
	b.WriteString("5. Cultural Sensitivity (1-10)\n\n")
	b.WriteString("Format as:\n")
	b.WriteString("SCORES:\n[score lines]\n\n")
	b.WriteString("IMPROVEMENTS:\n[List specific suggestions if any]\n\n")
	b.WriteString("APPROVAL: [YES/NO - whether content meets standards]\n")
	return b.String()
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so multi-byte text never splits.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
