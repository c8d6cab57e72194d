package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

type Type string

const (
	PostCreatedType  Type = "post.created"
	PostGuessedType  Type = "post.guessed"
	PostFailedType   Type = "post.failed"
	UserFollowedType Type = "user.followed"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Resource is the part of the type before the dot, used as the broker
// resource.
func (t Type) Resource() string {
	r, _, _ := strings.Cut(string(t), ".")
	return r
}

func (t Type) Action() string {
	_, a, _ := strings.Cut(string(t), ".")
	return a
}

// Payload is implemented by every event variant.
type Payload interface {
	EventType() Type
}

type PostCreated struct {
	PostID      int64  `json:"postId" validate:"required"`
	AuthorID    int64  `json:"authorId" validate:"required"`
	AuthorAlias string `json:"authorAlias"`
	Title       string `json:"title"`
	PostType    string `json:"postType"`
}

type PostGuessed struct {
	PostID      int64  `json:"postId" validate:"required"`
	AuthorID    int64  `json:"authorId" validate:"required"`
	AuthorAlias string `json:"authorAlias"`
	UserID      int64  `json:"userId" validate:"required"`
	UserAlias   string `json:"userAlias"`
	Score       int    `json:"score" validate:"gte=0"`
}

type PostFailed struct {
	PostID   int64  `json:"postId" validate:"required"`
	AuthorID int64  `json:"authorId" validate:"required"`
	Title    string `json:"title"`
	Reason   string `json:"reason"`
}

type UserFollowed struct {
	UserID       int64  `json:"userId" validate:"required"`
	UserAlias    string `json:"userAlias"`
	ConnectionID int64  `json:"connectionId" validate:"required"`
}

func (PostCreated) EventType() Type  { return PostCreatedType }
func (PostGuessed) EventType() Type  { return PostGuessedType }
func (PostFailed) EventType() Type   { return PostFailedType }
func (UserFollowed) EventType() Type { return UserFollowedType }

// DecodePayload parses raw into the variant named by t.
func DecodePayload(t Type, raw []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch t {
	case PostCreatedType:
		var v PostCreated
		err = json.Unmarshal(raw, &v)
		p = v
	case PostGuessedType:
		var v PostGuessed
		err = json.Unmarshal(raw, &v)
		p = v
	case PostFailedType:
		var v PostFailed
		err = json.Unmarshal(raw, &v)
		p = v
	case UserFollowedType:
		var v UserFollowed
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, errors.Wrap(ErrUnknownEvent, string(t))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", t)
	}
	return p, nil
}

// Event is an immutable record of something that happened.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	Payload    Payload   `json:"payload"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID         uuid.UUID       `json:"id"`
		Type       Type            `json:"type"`
		Payload    json.RawMessage `json:"payload"`
		OccurredAt time.Time       `json:"occurredAt"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := DecodePayload(aux.Type, aux.Payload)
	if err != nil {
		return err
	}
	e.ID = aux.ID
	e.Type = aux.Type
	e.Payload = p
	e.OccurredAt = aux.OccurredAt
	return nil
}
