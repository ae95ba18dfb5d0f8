package transcript

import (
	"github.com/google/go-cmp/cmp"
)

// isDuplicate reports whether candidate repeats existing for append purposes.
// Stickers never count as duplicates: sending the same sticker twice is a real event.
func isDuplicate(existing, candidate Entry) bool {
	switch c := candidate.(type) {
	case *ChatMessage:
		e, ok := existing.(*ChatMessage)
		if !ok || c.Kind() == KindSticker {
			return false
		}
		if c.ID != "" && e.ID == c.ID {
			return true
		}
		// A retracted message no longer blocks the same words being said again.
		return e.Recalled == nil && sameChatContent(e, c)
	case *SystemEntry:
		e, ok := existing.(*SystemEntry)
		return ok && sameSystem(e, c)
	case *SocialEntry:
		e, ok := existing.(*SocialEntry)
		return ok && sameSocial(e, c)
	}
	return false
}

func sameChatContent(a, b *ChatMessage) bool {
	return a.Sender == b.Sender && a.Kind() == b.Kind() && cmp.Equal(a.content(), b.content())
}

func sameSystem(a, b *SystemEntry) bool {
	return a.Kind == b.Kind && a.Date == b.Date && a.Time == b.Time && a.Description == b.Description
}

func sameSocial(a, b *SocialEntry) bool {
	if a.Key != b.Key {
		return false
	}
	switch bd := b.Data.(type) {
	case PostData:
		ad, ok := a.Data.(PostData)
		return ok && ad.Text == bd.Text && ad.Date == bd.Date && ad.Time == bd.Time
	case CommentData:
		ad, ok := a.Data.(CommentData)
		return ok && ad.Text == bd.Text && ad.TargetPostSequenceID == bd.TargetPostSequenceID
	case LikeData:
		ad, ok := a.Data.(LikeData)
		return ok && ad.TargetPostSequenceID == bd.TargetPostSequenceID
	}
	return false
}

// sameIdentity reports whether a and b are the same entry: the same pointer or,
// for chat messages, the same ID.
func sameIdentity(a, b Entry) bool {
	if a == b {
		return true
	}
	am, ok := a.(*ChatMessage)
	if !ok {
		return false
	}
	bm, ok := b.(*ChatMessage)
	return ok && bm.ID != "" && am.ID == bm.ID
}

// sameContent reports whether stored carries the same content as candidate,
// looking through recalls so a retracted message still finds its row.
func sameContent(stored, candidate Entry) bool {
	switch c := candidate.(type) {
	case *SocialEntry:
		s, ok := stored.(*SocialEntry)
		return ok && s.Key == c.Key && cmp.Equal(s.Data, c.Data)
	case *SystemEntry:
		s, ok := stored.(*SystemEntry)
		return ok && sameSystem(s, c)
	case *ChatMessage:
		s, ok := stored.(*ChatMessage)
		return ok && sameChatContent(s, c)
	}
	return false
}
