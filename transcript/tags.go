package transcript

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/theimaginaryfoundation/chatlog/transcript/fileutils"
)

// tagRule maps one bracket tag onto a payload constructor.
// Each rule accepts its canonical name and the localized alias older transcripts use.
type tagRule struct {
	kind    MessageKind
	names   []string
	pattern *regexp.Regexp
	build   func(value string) Payload
}

// tagRules is evaluated in order; the first matching pattern wins and
// a value matching none of them is a plain text message.
var tagRules = []tagRule{
	newTagRule(KindVoice, []string{"voice", "语音"}, voiceFromTag),
	newTagRule(KindSticker, []string{"sticker", "表情"}, func(v string) Payload { return StickerPayload{Name: fileutils.UnescapeLine(v)} }),
	newTagRule(KindImage, []string{"image", "图片"}, imageFromTag),
	newTagRule(KindLocation, []string{"location", "位置"}, func(v string) Payload { return LocationPayload{Place: fileutils.UnescapeLine(v)} }),
	newTagRule(KindTransfer, []string{"transfer", "转账"}, transferFromTag),
	newTagRule(KindFile, []string{"file", "文件"}, func(v string) Payload { return FilePayload{Name: fileutils.UnescapeLine(v)} }),
	newTagRule(KindGift, []string{"gift", "礼物"}, giftFromTag),
}

func newTagRule(kind MessageKind, names []string, build func(string) Payload) tagRule {
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		quoted = append(quoted, regexp.QuoteMeta(n))
	}
	expr := `^\[(?i:` + strings.Join(quoted, "|") + `)\s*[:：]\s*(.*?)\s*\]$`
	return tagRule{
		kind:    kind,
		names:   names,
		pattern: regexp.MustCompile(expr),
		build:   build,
	}
}

// matchTag returns the payload for a bracket-tagged chat value, if any rule matches.
func matchTag(value string) (Payload, bool) {
	for _, r := range tagRules {
		m := r.pattern.FindStringSubmatch(value)
		if m == nil {
			continue
		}
		return r.build(m[1]), true
	}
	return nil, false
}

func voiceFromTag(v string) Payload {
	var p VoicePayload
	if err := fileutils.DecodeModelJSON(v, &p); err != nil || strings.TrimSpace(p.Text) == "" {
		text := fileutils.UnescapeLine(v)
		return VoicePayload{Text: text, Duration: estimateVoiceSeconds(text)}
	}
	if p.Duration <= 0 {
		p.Duration = estimateVoiceSeconds(p.Text)
	}
	return p
}

// estimateVoiceSeconds guesses a plausible clip length from the transcript.
func estimateVoiceSeconds(text string) int {
	n := utf8.RuneCountInString(strings.TrimSpace(text)) / 3
	if n < 1 {
		return 1
	}
	if n > 60 {
		return 60
	}
	return n
}

func imageFromTag(v string) Payload {
	if strings.HasPrefix(strings.TrimSpace(v), "{") {
		var p ImagePayload
		if err := fileutils.DecodeModelJSON(v, &p); err == nil && p.Value != "" {
			if p.Variant != ImageURL {
				p.Variant = ImageDescription
			}
			return p
		}
	}
	text := fileutils.UnescapeLine(v)
	if isURL(text) {
		return ImagePayload{Variant: ImageURL, Value: text}
	}
	return ImagePayload{Variant: ImageDescription, Value: text}
}

func isURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return (strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")) && !strings.ContainsAny(s, " \t")
}

func transferFromTag(v string) Payload {
	var p TransferPayload
	if err := fileutils.DecodeModelJSON(v, &p); err != nil {
		return TransferPayload{Note: fileutils.UnescapeLine(v), Status: StatusSent}
	}
	p.Status = normalizeStatus(p.Status)
	return p
}

func giftFromTag(v string) Payload {
	var p GiftPayload
	if err := fileutils.DecodeModelJSON(v, &p); err != nil || strings.TrimSpace(p.Name) == "" {
		return GiftPayload{Name: fileutils.UnescapeLine(v), Status: StatusSent}
	}
	p.Status = normalizeStatus(p.Status)
	return p
}

func normalizeStatus(s TransferStatus) TransferStatus {
	switch TransferStatus(strings.ToLower(strings.TrimSpace(string(s)))) {
	case StatusAccepted:
		return StatusAccepted
	case StatusRejected:
		return StatusRejected
	default:
		return StatusSent
	}
}

// tagName returns the canonical bracket tag used when encoding a payload kind.
func tagName(kind MessageKind) string {
	for _, r := range tagRules {
		if r.kind == kind {
			return r.names[0]
		}
	}
	return string(kind)
}
