package unitfile

import "testing"

func TestIsUnitFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"web.service", true},
		{"backup.timer", true},
		{"app.socket", true},
		{"data.mount", true},
		{"web.service.tmpl", false},
		{"README.md", false},
		{"noext", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnitFile(tt.name); got != tt.want {
				t.Errorf("IsUnitFile(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"web.service", false},
		{"getty@tty1.service", false},
		{"", true},
		{"../escape.service", true},
		{"sub/dir.service", true},
		{".hidden.service", true},
		{".service", true},
		{"web.conf", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Info
	}{
		{
			name: "simple installable service",
			content: `[Unit]
Description=Web

[Service]
ExecStart=/usr/bin/web

[Install]
WantedBy=multi-user.target
`,
			want: Info{Installable: true},
		},
		{
			name: "oneshot installable",
			content: `[Service]
Type=oneshot
ExecStart=/usr/bin/migrate

[Install]
WantedBy=multi-user.target
`,
			want: Info{Installable: true, Oneshot: true},
		},
		{
			name: "no install section",
			content: `[Service]
ExecStart=/usr/bin/worker
`,
			want: Info{},
		},
		{
			name: "empty wanted by",
			content: `[Install]
WantedBy=
`,
			want: Info{},
		},
		{
			name: "commented directive",
			content: `[Install]
# WantedBy=multi-user.target
; RequiredBy=foo.target
`,
			want: Info{},
		},
		{
			name: "type in wrong section ignored",
			content: `[Unit]
Type=oneshot
[Install]
RequiredBy=foo.target
`,
			want: Info{Installable: true},
		},
		{
			name: "continuation line is not a key",
			content: `[Service]
ExecStart=/bin/sh -c \
  Type=oneshot
[Install]
Alias=web2.service
`,
			want: Info{Installable: true},
		},
		{
			name: "value on continuation line",
			content: `[Install]
WantedBy=\
  multi-user.target
`,
			want: Info{Installable: true},
		},
		{
			name: "comment inside continuation",
			content: `[Service]
Type=\
# not oneshot
  oneshot
`,
			want: Info{Oneshot: true},
		},
		{
			name: "case insensitive keys",
			content: `[install]
wantedby=timers.target
`,
			want: Info{Installable: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Inspect(tt.content); got != tt.want {
				t.Errorf("Inspect() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInfo_Startable(t *testing.T) {
	if !(Info{Installable: true}).Startable() {
		t.Error("installable non-oneshot unit should be startable")
	}
	if (Info{Installable: true, Oneshot: true}).Startable() {
		t.Error("oneshot unit should not be startable")
	}
	if (Info{}).Startable() {
		t.Error("unit without enable directive should not be startable")
	}
}
