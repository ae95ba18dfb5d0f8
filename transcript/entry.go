package transcript

// Entry is one decoded unit of the transcript: *ChatMessage, *SystemEntry or *SocialEntry.
type Entry interface {
	isEntry()
}

// Sender identifies which side of the conversation produced a chat message.
type Sender string

const (
	SenderMe   Sender = "me"
	SenderThem Sender = "them"
)

// MessageKind is the payload kind of a chat message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindVoice    MessageKind = "voice"
	KindSticker  MessageKind = "sticker"
	KindImage    MessageKind = "image"
	KindLocation MessageKind = "location"
	KindTransfer MessageKind = "transfer"
	KindFile     MessageKind = "file"
	KindGift     MessageKind = "gift"
)

// Payload is the kind-specific content of a chat message.
type Payload interface {
	Kind() MessageKind
}

// TextPayload is a plain text message.
type TextPayload struct {
	Text string `json:"text"`
}

// VoicePayload is a voice message rendered as its transcript.
type VoicePayload struct {
	Text     string `json:"text"`
	Duration int    `json:"duration"`
}

// StickerPayload names a sticker. The name need not resolve to an asset.
type StickerPayload struct {
	Name string `json:"name"`
}

// ImageVariant tells whether an image payload carries a URL or a description.
type ImageVariant string

const (
	ImageURL         ImageVariant = "url"
	ImageDescription ImageVariant = "description"
)

// ImagePayload is either a link to an image or a textual description of one.
type ImagePayload struct {
	Variant ImageVariant `json:"type"`
	Value   string       `json:"value"`
}

// LocationPayload is a shared location.
type LocationPayload struct {
	Place string `json:"place"`
}

// TransferStatus tracks money transfers and gifts.
type TransferStatus string

const (
	StatusSent     TransferStatus = "sent"
	StatusAccepted TransferStatus = "accepted"
	StatusRejected TransferStatus = "rejected"
)

// TransferPayload is a money transfer between the two parties.
type TransferPayload struct {
	Amount float64        `json:"amount"`
	Note   string         `json:"note,omitempty"`
	Status TransferStatus `json:"status"`
}

// FilePayload is a shared file, identified by name.
type FilePayload struct {
	Name string `json:"name"`
}

// GiftPayload is a gift sent between the two parties.
type GiftPayload struct {
	Name   string         `json:"name"`
	Price  float64        `json:"price,omitempty"`
	Note   string         `json:"note,omitempty"`
	Status TransferStatus `json:"status"`
}

func (TextPayload) Kind() MessageKind     { return KindText }
func (VoicePayload) Kind() MessageKind    { return KindVoice }
func (StickerPayload) Kind() MessageKind  { return KindSticker }
func (ImagePayload) Kind() MessageKind    { return KindImage }
func (LocationPayload) Kind() MessageKind { return KindLocation }
func (TransferPayload) Kind() MessageKind { return KindTransfer }
func (FilePayload) Kind() MessageKind     { return KindFile }
func (GiftPayload) Kind() MessageKind     { return KindGift }

// Recall records that a message was withdrawn. The original payload is kept forever.
type Recall struct {
	OriginalPayload Payload
	Timestamp       int64
}

// ChatMessage is a message exchanged between the user (Me) and the agent (Them).
type ChatMessage struct {
	ID      string
	Sender  Sender
	Payload Payload

	// Recalled is set once the message has been retracted; Payload is nil from then on.
	Recalled *Recall
}

// Kind reports the message kind, looking through a recall when necessary.
func (m *ChatMessage) Kind() MessageKind {
	if p := m.content(); p != nil {
		return p.Kind()
	}
	return KindText
}

// content returns the payload the message was created with, recalled or not.
func (m *ChatMessage) content() Payload {
	if m.Recalled != nil {
		return m.Recalled.OriginalPayload
	}
	return m.Payload
}

// SystemKind distinguishes clock markers from narrated events.
type SystemKind string

const (
	SystemTime  SystemKind = "time"
	SystemEvent SystemKind = "event"
)

// SystemEntry is an identity-less marker in the timeline.
type SystemEntry struct {
	Kind        SystemKind `json:"-"`
	Date        string     `json:"date"`
	Time        string     `json:"time"`
	Description string     `json:"description,omitempty"`
}

// SocialKey identifies a social-feed interaction.
type SocialKey string

const (
	UserPost     SocialKey = "user_post"
	AgentPost    SocialKey = "agent_post"
	UserComment  SocialKey = "user_comment"
	AgentComment SocialKey = "agent_comment"
	UserLike     SocialKey = "user_like"
	AgentLike    SocialKey = "agent_like"
)

// IsPost reports whether the key denotes a post (as opposed to an interaction with one).
func (k SocialKey) IsPost() bool { return k == UserPost || k == AgentPost }

// SocialData is the payload of a social entry.
type SocialData interface {
	isSocialData()
}

// PostData is a feed post.
type PostData struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
	Date  string `json:"date,omitempty"`
	Time  string `json:"time,omitempty"`
}

// CommentData is a comment on a post. The target is the zero-based index among post entries.
type CommentData struct {
	TargetPostSequenceID int    `json:"target_post_sequence_id"`
	Text                 string `json:"text"`
}

// LikeData is a like on a post.
type LikeData struct {
	TargetPostSequenceID int `json:"target_post_sequence_id"`
}

func (PostData) isSocialData()    {}
func (CommentData) isSocialData() {}
func (LikeData) isSocialData()    {}

// SocialEntry is a simulated social-feed interaction.
type SocialEntry struct {
	Key  SocialKey
	Data SocialData
}

// target returns the post sequence id an interaction points at.
func (s *SocialEntry) target() (int, bool) {
	switch d := s.Data.(type) {
	case CommentData:
		return d.TargetPostSequenceID, true
	case LikeData:
		return d.TargetPostSequenceID, true
	}
	return 0, false
}

// withTarget returns a copy of the entry data pointing at a different post.
func (s *SocialEntry) withTarget(target int) SocialData {
	switch d := s.Data.(type) {
	case CommentData:
		d.TargetPostSequenceID = target
		return d
	case LikeData:
		d.TargetPostSequenceID = target
		return d
	}
	return s.Data
}

func (*ChatMessage) isEntry() {}
func (*SystemEntry) isEntry() {}
func (*SocialEntry) isEntry() {}

// RecallCommand asks to retract a previously logged chat message. It is never stored.
type RecallCommand struct {
	// Sender is the protocol side, "USER" or "CHAR".
	Sender     string `json:"sender"`
	TargetText string `json:"target_text"`
	Timestamp  int64  `json:"timestamp"`
}

// targetSender maps the protocol side onto a chat sender.
func (c RecallCommand) targetSender() Sender {
	if normalizeKey(c.Sender) == keyUser {
		return SenderMe
	}
	return SenderThem
}
