package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/theimaginaryfoundation/chatlog/transcript/fileutils"
)

// Protocol line keys.
const (
	keyUser        = "USER"
	keyChar        = "CHAR"
	keyTime        = "TIME"
	keyEventLog    = "EVENT_LOG"
	keyUserMoment  = "USER_MOMENT"
	keyCharMoment  = "CHAR_MOMENT"
	keyUserComment = "USER_COMMENT"
	keyCharComment = "CHAR_COMMENT"
	keyUserLike    = "USER_LIKE"
	keyCharLike    = "CHAR_LIKE"
	keyRecall      = "RECALL"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var socialKeys = map[string]SocialKey{
	keyUserMoment:  UserPost,
	keyCharMoment:  AgentPost,
	keyUserComment: UserComment,
	keyCharComment: AgentComment,
	keyUserLike:    UserLike,
	keyCharLike:    AgentLike,
}

var socialLineKeys = map[SocialKey]string{
	UserPost:     keyUserMoment,
	AgentPost:    keyCharMoment,
	UserComment:  keyUserComment,
	AgentComment: keyCharComment,
	UserLike:     keyUserLike,
	AgentLike:    keyCharLike,
}

// Decoded is the result of decoding one protocol line: either an entry or a recall command.
type Decoded struct {
	Entry  Entry
	Recall *RecallCommand
}

// CodecOptions controls the clock and identity source used while decoding.
type CodecOptions struct {
	// Now backfills missing TIME/EVENT_LOG dates and recall timestamps (defaults to time.Now).
	Now func() time.Time

	// NewID assigns identities to decoded chat messages (defaults to uuid.NewString).
	NewID func() string
}

// Codec encodes entries into protocol lines and decodes them back.
type Codec struct {
	now   func() time.Time
	newID func() string
}

// NewCodec returns a codec with opts applied over the defaults.
func NewCodec(opts CodecOptions) *Codec {
	c := &Codec{now: opts.Now, newID: opts.NewID}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// Now exposes the codec clock.
func (c *Codec) Now() time.Time { return c.now() }

// NewID returns a fresh chat message identity.
func (c *Codec) NewID() string { return c.newID() }

func normalizeKey(k string) string {
	return strings.ToUpper(strings.TrimSpace(k))
}

// splitLine splits "KEY: VALUE" on the first ASCII or full-width colon.
func splitLine(line string) (key, value string, ok bool) {
	i := strings.IndexByte(line, ':')
	j := strings.Index(line, "：")
	sep := 1
	if j >= 0 && (i < 0 || j < i) {
		i = j
		sep = len("：")
	}
	if i <= 0 {
		return "", "", false
	}
	return normalizeKey(line[:i]), strings.TrimSpace(line[i+sep:]), true
}

// DecodeLine decodes one protocol line. Unknown keys, lines without a separator and
// lines with nothing usable return ok=false.
func (c *Codec) DecodeLine(line string) (Decoded, bool) {
	line = strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))
	if line == "" {
		return Decoded{}, false
	}
	key, value, ok := splitLine(line)
	if !ok {
		return Decoded{}, false
	}

	switch key {
	case keyUser, keyChar:
		if value == "" {
			return Decoded{}, false
		}
		sender := SenderThem
		if key == keyUser {
			sender = SenderMe
		}
		return Decoded{Entry: &ChatMessage{ID: c.newID(), Sender: sender, Payload: decodeChatValue(value)}}, true
	case keyTime, keyEventLog:
		return Decoded{Entry: c.decodeSystem(key, value)}, true
	case keyRecall:
		cmd, ok := c.decodeRecall(value)
		if !ok {
			return Decoded{}, false
		}
		return Decoded{Recall: &cmd}, true
	}

	if sk, ok := socialKeys[key]; ok {
		e, ok := decodeSocial(sk, value)
		if !ok {
			return Decoded{}, false
		}
		return Decoded{Entry: e}, true
	}
	return Decoded{}, false
}

func decodeChatValue(value string) Payload {
	if p, ok := matchTag(value); ok {
		return p
	}
	return TextPayload{Text: fileutils.UnescapeLine(value)}
}

func (c *Codec) decodeSystem(key, value string) *SystemEntry {
	e := &SystemEntry{Kind: SystemTime}
	if key == keyEventLog {
		e.Kind = SystemEvent
	}
	if err := fileutils.DecodeModelJSON(value, e); err != nil && e.Kind == SystemEvent && value != "" {
		e.Description = fileutils.UnescapeLine(value)
	}
	now := c.now()
	if strings.TrimSpace(e.Date) == "" {
		e.Date = now.Format(dateLayout)
	}
	if strings.TrimSpace(e.Time) == "" {
		e.Time = now.Format(timeLayout)
	}
	return e
}

func decodeSocial(key SocialKey, value string) (*SocialEntry, bool) {
	switch key {
	case UserPost, AgentPost:
		var d PostData
		if err := fileutils.DecodeModelJSON(value, &d); err != nil {
			if value == "" {
				return nil, false
			}
			d = PostData{Text: fileutils.UnescapeLine(value)}
		}
		return &SocialEntry{Key: key, Data: d}, true
	case UserComment, AgentComment:
		var d CommentData
		if err := fileutils.DecodeModelJSON(value, &d); err != nil || d.TargetPostSequenceID < 0 {
			return nil, false
		}
		return &SocialEntry{Key: key, Data: d}, true
	default:
		var d LikeData
		if err := fileutils.DecodeModelJSON(value, &d); err != nil || d.TargetPostSequenceID < 0 {
			return nil, false
		}
		return &SocialEntry{Key: key, Data: d}, true
	}
}

func (c *Codec) decodeRecall(value string) (RecallCommand, bool) {
	var cmd RecallCommand
	if err := fileutils.DecodeModelJSON(value, &cmd); err != nil {
		return RecallCommand{}, false
	}
	if strings.TrimSpace(cmd.TargetText) == "" {
		return RecallCommand{}, false
	}
	cmd.Sender = normalizeKey(cmd.Sender)
	if cmd.Sender != keyUser {
		cmd.Sender = keyChar
	}
	if cmd.Timestamp == 0 {
		cmd.Timestamp = c.now().UnixMilli()
	}
	return cmd, true
}

// EncodeEntry renders an entry as protocol lines. A recalled message yields its
// original line followed by the RECALL line that retracts it.
func (c *Codec) EncodeEntry(e Entry) ([]string, error) {
	switch e := e.(type) {
	case *ChatMessage:
		return encodeChat(e)
	case *SystemEntry:
		key := keyTime
		if e.Kind == SystemEvent {
			key = keyEventLog
		}
		v, err := fileutils.MarshalCompact(e)
		if err != nil {
			return nil, fmt.Errorf("EncodeEntry: %s: %w", key, err)
		}
		return []string{key + ": " + v}, nil
	case *SocialEntry:
		key, ok := socialLineKeys[e.Key]
		if !ok {
			return nil, fmt.Errorf("EncodeEntry: unknown social key %q", e.Key)
		}
		v, err := fileutils.MarshalCompact(e.Data)
		if err != nil {
			return nil, fmt.Errorf("EncodeEntry: %s: %w", key, err)
		}
		return []string{key + ": " + v}, nil
	default:
		return nil, fmt.Errorf("EncodeEntry: unsupported entry %T", e)
	}
}

func encodeChat(m *ChatMessage) ([]string, error) {
	key := senderKey(m.Sender)
	content := m.content()
	if content == nil {
		content = TextPayload{}
	}
	value, err := encodePayload(content)
	if err != nil {
		return nil, fmt.Errorf("EncodeEntry: %s: %w", key, err)
	}
	lines := []string{key + ": " + value}
	if m.Recalled == nil {
		return lines, nil
	}

	target, err := payloadText(content)
	if err != nil {
		return nil, fmt.Errorf("EncodeEntry: recall target: %w", err)
	}
	cmd, err := fileutils.MarshalCompact(RecallCommand{Sender: key, TargetText: target, Timestamp: m.Recalled.Timestamp})
	if err != nil {
		return nil, fmt.Errorf("EncodeEntry: RECALL: %w", err)
	}
	return append(lines, keyRecall+": "+cmd), nil
}

func senderKey(s Sender) string {
	if s == SenderMe {
		return keyUser
	}
	return keyChar
}

func encodePayload(p Payload) (string, error) {
	switch p := p.(type) {
	case TextPayload:
		return fileutils.EscapeLine(p.Text), nil
	case StickerPayload:
		return "[" + tagName(KindSticker) + ": " + fileutils.EscapeLine(p.Name) + "]", nil
	case LocationPayload:
		return "[" + tagName(KindLocation) + ": " + fileutils.EscapeLine(p.Place) + "]", nil
	case FilePayload:
		return "[" + tagName(KindFile) + ": " + fileutils.EscapeLine(p.Name) + "]", nil
	case VoicePayload, ImagePayload, TransferPayload, GiftPayload:
		v, err := fileutils.MarshalCompact(p)
		if err != nil {
			return "", err
		}
		return "[" + tagName(p.Kind()) + ": " + v + "]", nil
	default:
		return "", fmt.Errorf("unsupported payload %T", p)
	}
}

// payloadText is the text form a recall command uses to refer to a payload:
// the bare string for text-like kinds, the JSON object for structured ones.
func payloadText(p Payload) (string, error) {
	switch p := p.(type) {
	case nil:
		return "", nil
	case TextPayload:
		return p.Text, nil
	case StickerPayload:
		return p.Name, nil
	case LocationPayload:
		return p.Place, nil
	case FilePayload:
		return p.Name, nil
	default:
		return fileutils.MarshalCompact(p)
	}
}

// DecodeText decodes every line of a protocol block, returning entries in order and
// the recall commands found along the way. Each command records how many entries
// preceded it so it can later be resolved against that prefix only.
func (c *Codec) DecodeText(text string) ([]Entry, []PendingRecall) {
	var (
		entries []Entry
		recalls []PendingRecall
	)
	for _, line := range strings.Split(text, "\n") {
		d, ok := c.DecodeLine(line)
		if !ok {
			continue
		}
		if d.Recall != nil {
			recalls = append(recalls, PendingRecall{Command: *d.Recall, Before: len(entries)})
			continue
		}
		entries = append(entries, d.Entry)
	}
	return entries, recalls
}

// PendingRecall is a recall command found while decoding a block.
type PendingRecall struct {
	Command RecallCommand
	// Before is the number of entries decoded ahead of the command.
	Before int
}
