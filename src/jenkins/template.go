package jenkins

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"capomastro/src/model"
)

// NotificationsPath is the path Jenkins servers post phase notifications to.
const NotificationsPath = "/jenkins/notifications/"

// NotificationsURL returns the full notification endpoint URL for a base
// host, e.g. "http://capomastro.example.com" ->
// "http://capomastro.example.com/jenkins/notifications/".
func NotificationsURL(base string) string {
	return strings.TrimRight(base, "/") + NotificationsPath
}

// TemplateContext is the data available to job config templates.
type TemplateContext struct {
	// NotificationsURL is where the generated job should send phase
	// notifications.
	NotificationsURL string
	Dependency       *model.Dependency
}

// GenerateJobConfig renders a config.xml template for a dependency's job,
// substituting the notification endpoint and dependency fields. The
// document is uploaded to Jenkins when the job is (re)created; the
// orchestration core never consumes it.
func GenerateJobConfig(configXML string, dep *model.Dependency, notificationHost string) (string, error) {
	tmpl, err := template.New("config").Parse(configXML)
	if err != nil {
		return "", fmt.Errorf("failed to parse job config template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, TemplateContext{
		NotificationsURL: NotificationsURL(notificationHost),
		Dependency:       dep,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render job config template: %w", err)
	}

	return buf.String(), nil
}
