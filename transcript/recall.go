package transcript

import (
	"regexp"
	"strings"
)

var nonWord = regexp.MustCompile(`[^\w\p{Han}]+`)

// normalizeRecallText keeps ASCII word characters and Han ideographs, lowercased.
func normalizeRecallText(s string) string {
	return strings.ToLower(nonWord.ReplaceAllString(s, ""))
}

// Resolve finds the chat message cmd retracts, scanning from the newest entry back.
// The candidate must come from the command's sender and not be recalled already;
// its text form then has to equal the target exactly, equal it after
// normalization, or contain it (or be contained by it) after normalization.
// Voice messages are also matched on their transcript. Resolve returns nil, -1
// when nothing matches.
func Resolve(entries []Entry, cmd RecallCommand) (*ChatMessage, int) {
	sender := cmd.targetSender()
	target := cmd.TargetText
	normTarget := normalizeRecallText(target)

	for i := len(entries) - 1; i >= 0; i-- {
		m, ok := entries[i].(*ChatMessage)
		if !ok || m.Sender != sender || m.Recalled != nil || m.Payload == nil {
			continue
		}
		text, err := payloadText(m.Payload)
		if err == nil && textMatches(text, target, normTarget) {
			return m, i
		}
		if v, ok := m.Payload.(VoicePayload); ok && textMatches(v.Text, target, normTarget) {
			return m, i
		}
	}
	return nil, -1
}

func textMatches(candidate, target, normTarget string) bool {
	if candidate == target {
		return true
	}
	norm := normalizeRecallText(candidate)
	if norm == "" || normTarget == "" {
		return false
	}
	return norm == normTarget || strings.Contains(norm, normTarget) || strings.Contains(normTarget, norm)
}

// markRecalled moves the live payload into the recall record.
func markRecalled(m *ChatMessage, timestamp int64) {
	m.Recalled = &Recall{OriginalPayload: m.Payload, Timestamp: timestamp}
	m.Payload = nil
}

// applyPendingRecalls resolves each command against the entries that preceded it
// and returns the commands nothing matched.
func applyPendingRecalls(entries []Entry, pending []PendingRecall) []RecallCommand {
	var unresolved []RecallCommand
	for _, p := range pending {
		before := min(p.Before, len(entries))
		m, _ := Resolve(entries[:before], p.Command)
		if m == nil {
			unresolved = append(unresolved, p.Command)
			continue
		}
		markRecalled(m, p.Command.Timestamp)
	}
	return unresolved
}
