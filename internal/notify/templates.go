package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

// Notification keys
const (
	KeyCourseSendForReview  = "course_send_for_review"
	KeyCourseMarkAsReviewed = "course_mark_as_reviewed"
	KeyRunSendForReview     = "run_send_for_review"
	KeyRunMarkAsReviewed    = "run_mark_as_reviewed"
	KeyRunGoLive            = "run_go_live"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(key, subject, body string) messageTemplate {
	return messageTemplate{
		subject: template.Must(template.New(key + ".subject").Option("missingkey=error").Parse(subject)),
		body:    template.Must(template.New(key + ".body").Option("missingkey=error").Parse(body)),
	}
}

var templates = map[string]messageTemplate{
	KeyCourseSendForReview: mustTemplate(KeyCourseSendForReview,
		`Changes to {{.course_title}} are ready for review`,
		`Dear {{.recipient_name}},

{{.sender_role}} has submitted {{.course_title}} ({{.course_key}}) for review.
{{.page_url}}
`),
	KeyCourseMarkAsReviewed: mustTemplate(KeyCourseMarkAsReviewed,
		`Changes to {{.course_title}} have been approved`,
		`Dear {{.recipient_name}},

{{.sender_role}} has reviewed and approved {{.course_title}} ({{.course_key}}).
{{.page_url}}
`),
	KeyRunSendForReview: mustTemplate(KeyRunSendForReview,
		`{{.run_key}} is ready for review`,
		`Dear {{.recipient_name}},

{{.sender_role}} has submitted course run {{.run_key}} of {{.course_title}} for review.
{{.page_url}}
`),
	KeyRunMarkAsReviewed: mustTemplate(KeyRunMarkAsReviewed,
		`{{.run_key}} has been reviewed`,
		`Dear {{.recipient_name}},

Course run {{.run_key}} of {{.course_title}} has been reviewed and is ready for publication.
{{.page_url}}
`),
	KeyRunGoLive: mustTemplate(KeyRunGoLive,
		`{{.run_key}} is now live`,
		`Dear {{.recipient_name}},

Course run {{.run_key}} of {{.course_title}} has been published.
{{.page_url}}
`),
}

// Render produces the subject and body of a notification
func Render(key string, data map[string]any) (string, string, error) {
	tpl, ok := templates[key]
	if !ok {
		return "", "", fmt.Errorf("unknown notification key %q", key)
	}
	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render subject of %s: %w", key, err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render body of %s: %w", key, err)
	}
	return subject.String(), body.String(), nil
}
