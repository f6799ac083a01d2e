package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `root: /run/dispipe
sink:
  type: discord
  token: abc
  gateway: true
  timeout: 15s
  rate_per_second: 2
  burst: 3
send_timeout: 20s
grace: 3s
pipes:
  - label: alerts
    fifo: alerts
    channel: 123456789012345678
  - label: deploys
    fifo: deploys.fifo
    channel: "42"
`

func TestLoad_FullConfig(t *testing.T) {
	path := writeTemp(t, "dispipe.yaml", fullYAML)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.Validate(path); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	assertEqual(t, "root", f.Root, "/run/dispipe")
	assertEqual(t, "sink.type", f.Sink.Type, SinkDiscord)
	assertEqual(t, "sink.token", f.Sink.Token, "abc")
	if !f.Sink.Gateway || f.Sink.RatePerSecond != 2 || f.Sink.Burst != 3 {
		t.Errorf("sink = %+v", f.Sink)
	}
	if f.Sink.Timeout.Duration != 15*time.Second {
		t.Errorf("sink.timeout = %v", f.Sink.Timeout)
	}
	if f.SendTimeout.Duration != 20*time.Second || f.Grace.Duration != 3*time.Second {
		t.Errorf("send_timeout=%v grace=%v", f.SendTimeout, f.Grace)
	}

	cfg := f.Model()
	if cfg.Token != "abc" || cfg.Root != "/run/dispipe" {
		t.Errorf("model = %+v", cfg)
	}
	if len(cfg.Mappings) != 2 {
		t.Fatalf("mappings = %+v", cfg.Mappings)
	}
	if m := cfg.Mappings[0]; m.Label != "alerts" || m.Path != "/run/dispipe/alerts" || m.ChannelID != 123456789012345678 {
		t.Errorf("mapping 0 = %+v", m)
	}
	if m := cfg.Mappings[1]; m.Path != "/run/dispipe/deploys.fifo" || m.ChannelID != 42 {
		t.Errorf("mapping 1 = %+v", m)
	}
}

func TestLoad_TOML(t *testing.T) {
	content := `root = "/run/dispipe"
grace = "2s"

[sink]
type = "redis"
url = "redis://localhost:6379"
encoding = "msgpack"

[[pipes]]
label = "alerts"
fifo = "alerts"
channel = 123

[[pipes]]
label = "big"
fifo = "big"
channel = "18446744073709551615"
`
	path := writeTemp(t, "dispipe.toml", content)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.Validate(path); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if f.Grace.Duration != 2*time.Second {
		t.Errorf("grace = %v", f.Grace)
	}
	cfg := f.Model()
	if cfg.Mappings[0].ChannelID != 123 || cfg.Mappings[1].ChannelID != 18446744073709551615 {
		t.Errorf("mappings = %+v", cfg.Mappings)
	}
}

func TestLoad_INI(t *testing.T) {
	content := `[Dispipe]
token = ...                     ; Discord bot token
root = /var/dispipe             ; Directory containing the fifo files

                                ; A "fifo config" section
[Example]                       ; Section name for easy identification, printed on stdout
fifo = example.fifo             ; Name of the fifo file to listen on
channel = 99999999999999999     ; Channel ID to send messages to

[Deploys]
fifo = deploys.fifo
channel = 42
`
	path := writeTemp(t, "dispipe.ini", content)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.Validate(path); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	assertEqual(t, "sink.type", f.Sink.Type, SinkDiscord)
	assertEqual(t, "sink.token", f.Sink.Token, "...")
	cfg := f.Model()
	if cfg.Root != "/var/dispipe" || len(cfg.Mappings) != 2 {
		t.Fatalf("config = %+v", cfg)
	}
	if m := cfg.Mappings[0]; m.Label != "Example" || m.Path != "/var/dispipe/example.fifo" || m.ChannelID != 99999999999999999 {
		t.Errorf("mapping 0 = %+v", m)
	}
	if m := cfg.Mappings[1]; m.Label != "Deploys" || m.ChannelID != 42 {
		t.Errorf("mapping 1 = %+v", m)
	}
}

func TestLoad_INIExpandsEnvAndSettings(t *testing.T) {
	t.Setenv("DISPIPE_TEST_HOOK", "http://hooks.local/relay")
	content := `[Dispipe]
root = /run/dispipe
sink = webhook
url = ${DISPIPE_TEST_HOOK}
grace = 2s
`
	path := writeTemp(t, "dispipe.ini", content)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.Validate(path); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	assertEqual(t, "sink.type", f.Sink.Type, SinkWebhook)
	assertEqual(t, "sink.url", f.Sink.URL, "http://hooks.local/relay")
	if f.Grace.Duration != 2*time.Second {
		t.Errorf("grace = %v", f.Grace)
	}
	if len(f.Pipes) != 0 {
		t.Errorf("pipes = %+v, want none", f.Pipes)
	}
}

func TestLoad_INIErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing main section", "[Example]\nfifo = a\nchannel = 1\n", "missing main section [Dispipe]"},
		{"unknown main property", "[Dispipe]\nroot = /r\ncolor = red\n", `unknown property "color"`},
		{"unknown pipe property", "[Dispipe]\nroot = /r\n[Example]\npath = a\n", `unknown property "path" in section [Example]`},
		{"property outside section", "root = /r\n[Dispipe]\n", `"root" is outside any section`},
		{"bad duration", "[Dispipe]\nroot = /r\ngrace = soon\n", "invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, "dispipe.ini", tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidate_INIChannelNotInteger(t *testing.T) {
	path := writeTemp(t, "dispipe.ini", "[Dispipe]\ntoken = t\nroot = /r\n[Example]\nfifo = a\nchannel = abc\n")
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = f.Validate(path)
	if err == nil || !strings.Contains(err.Error(), "Channel should be an integer value") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	for _, content := range []string{"", "   \n  \n", "# only a comment\n"} {
		path := writeTemp(t, "dispipe.yaml", content)
		f, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%q): %v", content, err)
		}
		if f.Root != "" || len(f.Pipes) != 0 {
			t.Errorf("expected empty file, got %+v", f)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/dispipe.yaml")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "dispipe.yaml", "root: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	tests := []struct {
		name, file, content, key string
	}{
		{"yaml top level", "c.yaml", "root: /x\nbogus_key: 1\n", "bogus_key"},
		{"yaml nested", "c.yaml", "sink:\n  type: discord\n  unknown_field: bad\n", "unknown_field"},
		{"toml", "c.toml", "root = \"/x\"\nbogus_key = 1\n", "bogus_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected error for unknown key")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error should mention %s, got: %v", tt.key, err)
			}
		})
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_DISPIPE_TOKEN", "from-env")
	path := writeTemp(t, "dispipe.yaml", "sink:\n  type: discord\n  token: ${TEST_DISPIPE_TOKEN}\n  url: ${UNSET_12345:-http://fallback}\n")
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertEqual(t, "token", f.Sink.Token, "from-env")
	assertEqual(t, "url", f.Sink.URL, "http://fallback")
}

func TestDuration_InvalidFormat(t *testing.T) {
	path := writeTemp(t, "dispipe.yaml", "grace: not-a-duration\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected invalid duration error, got %v", err)
	}
}

func TestDuration_EmptyIsZero(t *testing.T) {
	path := writeTemp(t, "dispipe.yaml", "grace: \"\"\n")
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Grace.Duration != 0 {
		t.Errorf("expected zero, got %v", f.Grace.Duration)
	}
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "missing root and sink type",
			content: "pipes: []\n",
			want:    []string{`required property "root"`, `sink: required property "type"`},
		},
		{
			name:    "discord without token",
			content: "root: /r\nsink:\n  type: discord\n",
			want:    []string{`required property "token"`},
		},
		{
			name:    "webhook without url",
			content: "root: /r\nsink:\n  type: webhook\n",
			want:    []string{`required property "url"`},
		},
		{
			name:    "unknown sink",
			content: "root: /r\nsink:\n  type: irc\n",
			want:    []string{`unknown type "irc"`},
		},
		{
			name:    "bad redis encoding",
			content: "root: /r\nsink:\n  type: redis\n  url: redis://x\n  encoding: xml\n",
			want:    []string{`encoding "xml"`},
		},
		{
			name:    "pipe properties missing",
			content: "root: /r\nsink:\n  type: redis\n  url: redis://x\npipes:\n  - label: alerts\n  - fifo: b\n    channel: 1\n",
			want: []string{
				`pipe "alerts": required property "fifo" is missing`,
				`pipe "alerts": required property "channel" is missing`,
				`pipes[1]: required property "label" is missing`,
			},
		},
		{
			name:    "channel not an integer",
			content: "root: /r\nsink:\n  type: redis\n  url: redis://x\npipes:\n  - {label: a, fifo: a, channel: general}\n  - {label: b, fifo: b, channel: -5}\n  - {label: c, fifo: c, channel: 1.5}\n",
			want: []string{
				`pipe "a": Channel should be an integer value`,
				`pipe "b": Channel should be an integer value`,
				`pipe "c": Channel should be an integer value`,
			},
		},
		{
			name:    "duplicates",
			content: "root: /r\nsink:\n  type: redis\n  url: redis://x\npipes:\n  - {label: a, fifo: x, channel: 1}\n  - {label: a, fifo: x, channel: 2}\n",
			want:    []string{"label already used by pipes[0]", `fifo "x" already used by pipe "a"`},
		},
		{
			name:    "fifo names",
			content: "root: /r\nsink:\n  type: redis\n  url: redis://x\npipes:\n  - {label: a, fifo: ../escape, channel: 1}\n  - {label: b, fifo: /abs, channel: 2}\n  - {label: c, fifo: .dispipe.lock, channel: 3}\n  - {label: d, fifo: sub/dir, channel: 4}\n",
			want: []string{
				`pipe "a": fifo "../escape"`,
				`pipe "b": fifo "/abs"`,
				`pipe "c": fifo ".dispipe.lock"`,
				`pipe "d": fifo "sub/dir"`,
			},
		},
		{
			name:    "negative durations",
			content: "root: /r\ngrace: -1s\nsend_timeout: -2s\nsink:\n  type: webhook\n  url: http://x\n  timeout: -1s\n",
			want:    []string{`"grace"`, `"send_timeout"`, `sink: "timeout"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "dispipe.yaml", tt.content)
			f, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			err = f.Validate(path)
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if len(cerr.Problems) != len(tt.want) {
				t.Errorf("problems = %q, want %d", cerr.Problems, len(tt.want))
			}
			msg := err.Error()
			for _, w := range tt.want {
				if !strings.Contains(msg, w) {
					t.Errorf("error missing %q:\n%s", w, msg)
				}
			}
		})
	}
}

func TestValidate_ZeroPipesAllowed(t *testing.T) {
	f := &File{Root: "/r", Sink: SinkConfig{Type: SinkWebhook, URL: "http://x"}}
	if err := f.Validate("x"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestApplyEnv_TokenOverride(t *testing.T) {
	t.Setenv("DISPIPE_TOKEN", "env-token")
	t.Setenv("DISPIPE_LOG_LEVEL", "debug")

	env, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if env.LogLevel != "debug" || env.LogFormat != "json" {
		t.Errorf("env = %+v", env)
	}

	f := &File{Root: "/r", Sink: SinkConfig{Type: SinkDiscord, Token: "file-token"}}
	f.ApplyEnv(env)
	assertEqual(t, "token", f.Sink.Token, "env-token")
	if err := f.Validate("x"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestApplyEnv_EmptyTokenKeepsFile(t *testing.T) {
	f := &File{Sink: SinkConfig{Token: "file-token"}}
	f.ApplyEnv(&Env{})
	f.ApplyEnv(nil)
	assertEqual(t, "token", f.Sink.Token, "file-token")
}

func TestLoadEnv_InvalidBool(t *testing.T) {
	t.Setenv("DISPIPE_OTEL_INSECURE", "maybe")
	if _, err := LoadEnv(); err == nil {
		t.Fatal("expected error for invalid bool")
	}
}

func TestFingerprint(t *testing.T) {
	a := writeTemp(t, "a.yaml", fullYAML)
	b := writeTemp(t, "b.yaml", fullYAML+"# changed\n")

	fa, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	again, _ := Fingerprint(a)
	fb, _ := Fingerprint(b)

	if !strings.HasPrefix(fa, "blake3:") || len(fa) != len("blake3:")+64 {
		t.Errorf("fingerprint = %q", fa)
	}
	if fa != again {
		t.Error("fingerprint not stable")
	}
	if fa == fb {
		t.Error("different content, same fingerprint")
	}
	if _, err := Fingerprint("/nonexistent"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFormatOf(t *testing.T) {
	cases := map[string]Format{
		"dispipe.toml": FormatTOML,
		"DISPIPE.TOML": FormatTOML,
		"dispipe.yaml": FormatYAML,
		"dispipe.yml":  FormatYAML,
		"dispipe":      FormatYAML,
		"dispipe.ini":  FormatINI,
		"DISPIPE.INI":  FormatINI,
	}
	for path, want := range cases {
		if got := FormatOf(path); got != want {
			t.Errorf("FormatOf(%q) = %s, want %s", path, got, want)
		}
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
