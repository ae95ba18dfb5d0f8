package transcript

import (
	"errors"
	"strings"
)

// ErrNoLogBlock is returned when no slot contains a sentinel-delimited block.
var ErrNoLogBlock = errors.New("no transcript block found in any slot")

// Sentinels delimit the protocol block inside a slot. Text outside them belongs to the host.
type Sentinels struct {
	Begin string
	End   string
}

// DefaultSentinels are the markers written by Persist.
var DefaultSentinels = Sentinels{
	Begin: "<!-- TRANSCRIPT:BEGIN -->",
	End:   "<!-- TRANSCRIPT:END -->",
}

func (s Sentinels) orDefault() Sentinels {
	if s.Begin == "" || s.End == "" {
		return DefaultSentinels
	}
	return s
}

// block locates the first Begin..End pair in text. start/end bound the whole
// block including markers; innerStart/innerEnd bound the protocol text.
type block struct {
	start, innerStart, innerEnd, end int
}

func (s Sentinels) find(text string) (block, bool) {
	b := strings.Index(text, s.Begin)
	if b < 0 {
		return block{}, false
	}
	inner := b + len(s.Begin)
	e := strings.Index(text[inner:], s.End)
	if e < 0 {
		return block{}, false
	}
	return block{
		start:      b,
		innerStart: inner,
		innerEnd:   inner + e,
		end:        inner + e + len(s.End),
	}, true
}

// Inner returns the protocol text between the markers, if text holds a block.
func (s Sentinels) Inner(text string) (string, bool) {
	s = s.orDefault()
	blk, ok := s.find(text)
	if !ok {
		return "", false
	}
	return text[blk.innerStart:blk.innerEnd], true
}

// Strip removes the block, markers included, leaving the surrounding text untouched.
func (s Sentinels) Strip(text string) string {
	s = s.orDefault()
	blk, ok := s.find(text)
	if !ok {
		return text
	}
	return text[:blk.start] + text[blk.end:]
}

// Replace swaps the block's protocol text for body, appending a new block to text when it has none.
func (s Sentinels) Replace(text, body string) string {
	s = s.orDefault()
	wrapped := "\n" + body + "\n"
	if body == "" {
		wrapped = "\n"
	}
	blk, ok := s.find(text)
	if ok {
		return text[:blk.innerStart] + wrapped + text[blk.innerEnd:]
	}
	sep := ""
	if text != "" && !strings.HasSuffix(text, "\n") {
		sep = "\n"
	}
	return text + sep + s.Begin + wrapped + s.End
}

// ConsolidateResult is the outcome of merging log fragments.
type ConsolidateResult struct {
	Log *Log

	// Primary is the index (into the input) of the most recent slot with a block.
	Primary int

	// Slots holds the rewritten text of every input slot, in input order.
	Slots []string

	// Changed marks the slots whose text differs from the input.
	Changed []bool

	// Unresolved lists recall commands that matched no earlier message.
	Unresolved []RecallCommand
}

// Consolidate merges every transcript block found in slots (most recent first)
// into one log. Older blocks are stripped from their slots and their protocol text
// moves, oldest first, ahead of the primary block's own. Recall commands are
// applied after decoding, each against the entries that preceded it.
func Consolidate(slots []string, codec *Codec, sentinels Sentinels) (ConsolidateResult, error) {
	sentinels = sentinels.orDefault()
	if codec == nil {
		codec = NewCodec(CodecOptions{})
	}

	primary := -1
	var inners []string // newest first
	for i, text := range slots {
		inner, ok := sentinels.Inner(text)
		if !ok {
			continue
		}
		if primary < 0 {
			primary = i
		}
		inners = append(inners, inner)
	}
	if primary < 0 {
		return ConsolidateResult{}, ErrNoLogBlock
	}

	parts := make([]string, 0, len(inners))
	for i := len(inners) - 1; i >= 0; i-- {
		if part := strings.Trim(inners[i], "\r\n"); strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}
	merged := strings.Join(parts, "\n")

	res := ConsolidateResult{
		Primary: primary,
		Slots:   make([]string, len(slots)),
		Changed: make([]bool, len(slots)),
	}
	for i, text := range slots {
		switch {
		case i == primary:
			res.Slots[i] = sentinels.Replace(text, merged)
		case i > primary:
			res.Slots[i] = sentinels.Strip(text)
		default:
			res.Slots[i] = text
		}
		res.Changed[i] = res.Slots[i] != text
	}

	entries, pending := codec.DecodeText(merged)
	res.Unresolved = applyPendingRecalls(entries, pending)
	res.Log = newLogFrom(codec, entries)
	return res, nil
}
