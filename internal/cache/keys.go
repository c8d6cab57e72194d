package cache

func KeyUserSettings(userID int64) string {
	return Key("users", "settings", userID)
}
