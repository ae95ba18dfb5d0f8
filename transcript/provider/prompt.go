package provider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/theimaginaryfoundation/chatlog/transcript"
	"github.com/theimaginaryfoundation/chatlog/transcript/fileutils"
)

var schemaReflector = jsonschema.Reflector{DoNotReference: true}

// schemaOf describes the JSON form of T as a plain map, closed with closeObjects.
func schemaOf[T any]() map[string]interface{} {
	raw, err := json.Marshal(schemaReflector.Reflect(new(T)))
	if err != nil {
		panic(fmt.Sprintf("schemaOf %T: %v", *new(T), err))
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		panic(fmt.Sprintf("schemaOf %T: %v", *new(T), err))
	}
	closeObjects(doc)
	return doc
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
)

// closeObjects forbids extra properties on every object and marks all properties required.
func closeObjects(schema map[string]interface{}) {
	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
			requiredFields := make([]string, 0, len(properties))
			for propName := range properties {
				requiredFields = append(requiredFields, propName)
			}
			sort.Strings(requiredFields)
			if len(requiredFields) > 0 {
				schema[requiredKey] = requiredFields
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]interface{}); ok {
				closeObjects(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]interface{}); ok {
		closeObjects(items)
	}
}

type schemaDoc struct {
	usage  string
	schema map[string]interface{}
}

var protocolSchemas = []schemaDoc{
	{"[voice: <json>]", schemaOf[transcript.VoicePayload]()},
	{"[image: <json>] (or [image: <url or description>])", schemaOf[transcript.ImagePayload]()},
	{"[transfer: <json>]", schemaOf[transcript.TransferPayload]()},
	{"[gift: <json>]", schemaOf[transcript.GiftPayload]()},
	{"TIME / EVENT_LOG", schemaOf[transcript.SystemEntry]()},
	{"USER_MOMENT / CHAR_MOMENT", schemaOf[transcript.PostData]()},
	{"USER_COMMENT / CHAR_COMMENT", schemaOf[transcript.CommentData]()},
	{"USER_LIKE / CHAR_LIKE", schemaOf[transcript.LikeData]()},
	{"RECALL", schemaOf[transcript.RecallCommand]()},
}

const protocolGrammar = `Reply ONLY with protocol lines, one per line, in the form KEY: VALUE.

Keys:
- CHAR: a message you send. USER lines are the other person's and must never be written by you.
- TIME: a clock marker. EVENT_LOG: a narrated event.
- CHAR_MOMENT: a post on your feed. CHAR_COMMENT / CHAR_LIKE: react to a post by its zero-based index among all posts.
- RECALL: retract one of your own earlier messages by quoting its text in target_text with sender "CHAR".

A CHAR value is plain text unless it is one of these tags:
[voice: ...] [sticker: name] [image: ...] [location: place] [transfer: ...] [file: name] [gift: ...]
Write a newline inside a message as \n. Do not repeat lines.`

// ProtocolInstructions renders the system prompt describing the line protocol,
// with the JSON schemas of every structured value.
func ProtocolInstructions(persona string) string {
	var b strings.Builder
	if p := strings.TrimSpace(persona); p != "" {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	b.WriteString(protocolGrammar)
	b.WriteString("\n\nJSON schemas:\n")
	for _, doc := range protocolSchemas {
		raw, err := json.Marshal(doc.schema)
		if err != nil {
			panic(err)
		}
		fmt.Fprintf(&b, "- %s: %s\n", doc.usage, raw)
	}
	return b.String()
}

// BuildPrompt renders the last window entries of log (all of them when window <= 0)
// followed by the new user turn.
func BuildPrompt(log *transcript.Log, userTurn string, window int) (string, error) {
	entries := log.Entries()
	if window > 0 && len(entries) > window {
		entries = entries[len(entries)-window:]
	}

	var b strings.Builder
	b.WriteString("Transcript so far:\n")
	if len(entries) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, e := range entries {
		lines, err := log.Codec().EncodeEntry(e)
		if err != nil {
			return "", fmt.Errorf("BuildPrompt: %w", err)
		}
		for _, line := range lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	if turn := strings.TrimSpace(userTurn); turn != "" {
		b.WriteString("\nNew turn:\nUSER: ")
		b.WriteString(fileutils.EscapeLine(turn))
		b.WriteByte('\n')
	}
	return b.String(), nil
}
