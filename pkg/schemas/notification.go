package schemas

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
)

type NotificationType string

const (
	TypeGPSGuess                 NotificationType = "gps-guess"
	TypeConnectionCreatedGPSPost NotificationType = "connection-created-gps-post"
	TypeGPSPostFailed            NotificationType = "gps-post-failed"
	TypeUserStartedFollowing     NotificationType = "user-started-following"
)

var ErrUnknownType = errors.New("unknown notification type")

var validate = validator.New()

func (t NotificationType) Valid() bool {
	switch t {
	case TypeGPSGuess, TypeConnectionCreatedGPSPost, TypeGPSPostFailed, TypeUserStartedFollowing:
		return true
	}
	return false
}

// Details is the type-specific body of a notification. The concrete type
// decides the notification type stored next to it.
type Details interface {
	NotificationType() NotificationType
}

type GPSGuess struct {
	PostID    int64  `json:"postId" validate:"required"`
	UserID    int64  `json:"userId" validate:"required"`
	UserAlias string `json:"userAlias"`
	Score     int    `json:"score" validate:"gte=0"`
}

type ConnectionCreatedGPSPost struct {
	PostID      int64  `json:"postId" validate:"required"`
	AuthorID    int64  `json:"authorId" validate:"required"`
	AuthorAlias string `json:"authorAlias"`
	PostType    string `json:"postType"`
	Title       string `json:"title"`
}

type GPSPostFailed struct {
	PostID int64  `json:"postId" validate:"required"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

type UserStartedFollowing struct {
	UserID    int64  `json:"userId" validate:"required"`
	UserAlias string `json:"userAlias"`
}

func (GPSGuess) NotificationType() NotificationType { return TypeGPSGuess }

func (ConnectionCreatedGPSPost) NotificationType() NotificationType {
	return TypeConnectionCreatedGPSPost
}

func (GPSPostFailed) NotificationType() NotificationType { return TypeGPSPostFailed }

func (UserStartedFollowing) NotificationType() NotificationType { return TypeUserStartedFollowing }

func ValidateDetails(d Details) error {
	if d == nil {
		return errors.New("nil details")
	}
	if err := validate.Struct(d); err != nil {
		return errors.Wrapf(err, "invalid %s details", d.NotificationType())
	}
	return nil
}

// DecodeDetails parses raw into the shape owned by t.
func DecodeDetails(t NotificationType, raw []byte) (Details, error) {
	var (
		d   Details
		err error
	)
	switch t {
	case TypeGPSGuess:
		var v GPSGuess
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeConnectionCreatedGPSPost:
		var v ConnectionCreatedGPSPost
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeGPSPostFailed:
		var v GPSPostFailed
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeUserStartedFollowing:
		var v UserStartedFollowing
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, errors.Wrap(ErrUnknownType, string(t))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s details", t)
	}
	return d, nil
}

// NormalizeDetails returns the decoded details, or an empty object when raw
// does not parse as the shape t requires.
func NormalizeDetails(t NotificationType, raw []byte) any {
	d, err := DecodeDetails(t, raw)
	if err != nil {
		return struct{}{}
	}
	return d
}

type Notification struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"userId"`
	Alias     string           `json:"alias"`
	Type      NotificationType `json:"type"`
	Details   any              `json:"details"`
	CreatedAt time.Time        `json:"createdAt"`
	Seen      bool             `json:"seen"`
	SeenAt    *time.Time       `json:"seenAt"`
}

type NotificationList struct {
	Items []Notification `json:"items"`
}

type UnseenCount struct {
	Count int64 `json:"count"`
}

type MarkResult struct {
	OK bool `json:"ok"`
}

// ReminderCandidate is an unseen notification joined with its recipient's
// contact details.
type ReminderCandidate struct {
	ID        int64
	UserID    int64
	Type      NotificationType
	Details   []byte
	CreatedAt time.Time
	Email     *string
	Alias     string
}
