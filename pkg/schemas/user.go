package schemas

type NotificationSettings struct {
	EmailNotificationsEnabled bool `json:"emailNotificationsEnabled" msgpack:"email_notifications_enabled"`
}

type UserRef struct {
	ID    int64  `json:"id"`
	Alias string `json:"alias"`
}

type FollowResult struct {
	Created bool `json:"created"`
}
