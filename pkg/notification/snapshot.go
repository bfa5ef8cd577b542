// Package notification defines the notification snapshots the delivery
// engine fans out. A snapshot is one of a closed set of variants, encoded on
// the wire as a JSON object carrying a "type" discriminator.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

type Kind string

const (
	KindLike      Kind = "like"
	KindFollow    Kind = "follow"
	KindRepost    Kind = "repost"
	KindReply     Kind = "reply"
	KindQuote     Kind = "quote"
	KindMention   Kind = "mention"
	KindInfo      Kind = "info"
	KindViolation Kind = "violation"
)

// Snapshot is implemented only by the variant types in this package.
type Snapshot interface {
	Kind() Kind
	Meta() Header
	sealed()
}

// Header is common to every variant.
type Header struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h Header) Meta() Header { return h }
func (Header) sealed()        {}

type Actor struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Name is what a human-facing message calls the actor.
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return "@" + a.Handle
}

type PostRef struct {
	ID   string `json:"id"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

type Like struct {
	Header
	Actor Actor   `json:"actor"`
	Post  PostRef `json:"post"`
}

type Follow struct {
	Header
	Actor Actor `json:"actor"`
}

type Repost struct {
	Header
	Actor Actor   `json:"actor"`
	Post  PostRef `json:"post"`
}

type Reply struct {
	Header
	Actor     Actor   `json:"actor"`
	Post      PostRef `json:"post"`
	InReplyTo PostRef `json:"inReplyTo"`
}

type Quote struct {
	Header
	Actor  Actor   `json:"actor"`
	Post   PostRef `json:"post"`
	Quoted PostRef `json:"quoted"`
}

type Mention struct {
	Header
	Actor Actor   `json:"actor"`
	Post  PostRef `json:"post"`
}

// Info is an operator or system message.
type Info struct {
	Header
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Violation tells a user that content of theirs broke the rules.
type Violation struct {
	Header
	Reason string   `json:"reason"`
	Post   *PostRef `json:"post,omitempty"`
}

func (Like) Kind() Kind      { return KindLike }
func (Follow) Kind() Kind    { return KindFollow }
func (Repost) Kind() Kind    { return KindRepost }
func (Reply) Kind() Kind     { return KindReply }
func (Quote) Kind() Kind     { return KindQuote }
func (Mention) Kind() Kind   { return KindMention }
func (Info) Kind() Kind      { return KindInfo }
func (Violation) Kind() Kind { return KindViolation }

// Marshal encodes s with its "type" discriminator as the first field.
// The output is the exact webhook request body.
func Marshal(s Snapshot) ([]byte, error) {
	if env, ok := s.(Envelope); ok {
		s = env.Snapshot
	}
	if s == nil {
		return nil, dispatch.Invalid("snapshot", "missing")
	}
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s snapshot: %w", s.Kind(), err)
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	kind, _ := json.Marshal(s.Kind())
	buf.Write(kind)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a snapshot produced by Marshal. Unknown types are
// rejected rather than passed through.
func Unmarshal(data []byte) (Snapshot, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to read snapshot type: %w", err)
	}

	var s Snapshot
	switch probe.Type {
	case KindLike:
		s = decodeAs[Like](data)
	case KindFollow:
		s = decodeAs[Follow](data)
	case KindRepost:
		s = decodeAs[Repost](data)
	case KindReply:
		s = decodeAs[Reply](data)
	case KindQuote:
		s = decodeAs[Quote](data)
	case KindMention:
		s = decodeAs[Mention](data)
	case KindInfo:
		s = decodeAs[Info](data)
	case KindViolation:
		s = decodeAs[Violation](data)
	case "":
		return nil, dispatch.Invalid("type", "missing")
	default:
		return nil, dispatch.Invalid("type", fmt.Sprintf("unknown snapshot type %q", probe.Type))
	}
	if s == nil {
		return nil, dispatch.Invalid("snapshot", fmt.Sprintf("malformed %s snapshot", probe.Type))
	}
	return s, nil
}

// decodeAs returns nil on failure so the caller reports one uniform error.
func decodeAs[T Snapshot](data []byte) Snapshot {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}

// Envelope lets a snapshot travel inside a larger JSON document.
type Envelope struct {
	Snapshot
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return Marshal(e.Snapshot)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	s, err := Unmarshal(data)
	if err != nil {
		return err
	}
	e.Snapshot = s
	return nil
}
