package mailer

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/go-faster/errors"
)

//go:embed templates/*
var templateFS embed.FS

var (
	reminderHTML = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/reminder.html.tmpl"))
	reminderText = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/reminder.txt.tmpl"))
)

type ReminderItem struct {
	Summary   string
	CreatedAt time.Time
}

type ReminderData struct {
	Alias   string
	SiteURL string
	Items   []ReminderItem
}

func (d ReminderData) Count() int { return len(d.Items) }

// RenderReminder builds the "you have unread notifications" e-mail.
func RenderReminder(to string, data ReminderData) (Message, error) {
	var html, text bytes.Buffer
	if err := reminderHTML.Execute(&html, data); err != nil {
		return Message{}, errors.Wrap(err, "render html")
	}
	if err := reminderText.Execute(&text, data); err != nil {
		return Message{}, errors.Wrap(err, "render text")
	}
	subject := "You have an unread notification"
	if data.Count() > 1 {
		subject = "You have unread notifications"
	}
	return Message{To: to, Subject: subject, HTML: html.String(), Text: text.String()}, nil
}
