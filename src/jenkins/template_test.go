package jenkins

import (
	"strings"
	"testing"

	"capomastro/src/model"
)

func TestNotificationsURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{
			name: "plain host",
			base: "http://capomastro.example.com",
			want: "http://capomastro.example.com/jenkins/notifications/",
		},
		{
			name: "trailing slash",
			base: "http://capomastro.example.com/",
			want: "http://capomastro.example.com/jenkins/notifications/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NotificationsURL(tt.base); got != tt.want {
				t.Errorf("NotificationsURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateJobConfig(t *testing.T) {
	configXML := `<project><notifier url="{{.NotificationsURL}}"/><description>{{.Dependency.Name}}</description></project>`
	dep := &model.Dependency{Name: "my-dependency"}

	rendered, err := GenerateJobConfig(configXML, dep, "http://capomastro.example.com")
	if err != nil {
		t.Fatalf("GenerateJobConfig() error = %v", err)
	}

	if !strings.Contains(rendered, `url="http://capomastro.example.com/jenkins/notifications/"`) {
		t.Errorf("GenerateJobConfig() missing notification URL: %s", rendered)
	}
	if !strings.Contains(rendered, "<description>my-dependency</description>") {
		t.Errorf("GenerateJobConfig() missing dependency name: %s", rendered)
	}
}

func TestGenerateJobConfigInvalidTemplate(t *testing.T) {
	_, err := GenerateJobConfig("<project>{{.Broken", &model.Dependency{}, "http://example.com")
	if err == nil {
		t.Error("GenerateJobConfig() expected error for malformed template")
	}
}
