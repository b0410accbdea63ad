// Package launchd schedules periodic relay runs as a macOS launch agent.
package launchd

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"text/template"
	"time"
)

const DefaultLabel = "com.feedrelay.run"

var errUnsupported = errors.New("launchd is only available on macOS")

// InstallOptions describes the agent. Each tick launches ProgramPath with
// ProgramArgs once; the process is expected to exit when the run is done.
type InstallOptions struct {
	Label       string
	Interval    time.Duration
	ProgramPath string
	ProgramArgs []string
	LogPath     string // stdout and stderr of each run
	PlistPath   string // defaults to ~/Library/LaunchAgents/<label>.plist
}

func DefaultAgentPath(label string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents", label+".plist"), nil
}

func defaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "feedrelay.launchd.log")
	}
	return filepath.Join(home, "Library", "Logs", "feedrelay", "run.launchd.log")
}

var plistTmpl = template.Must(template.New("plist").Funcs(template.FuncMap{"x": escape}).Parse(
	xml.Header + `<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
  <dict>
    <key>Label</key>
    <string>{{x .Label}}</string>
    <key>ProgramArguments</key>
    <array>
{{- range .Args}}
      <string>{{x .}}</string>
{{- end}}
    </array>
    <key>StartInterval</key>
    <integer>{{.Seconds}}</integer>
    <key>RunAtLoad</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{x .LogPath}}</string>
    <key>StandardErrorPath</key>
    <string>{{x .LogPath}}</string>
  </dict>
</plist>
`))

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// BuildPlist renders the agent definition. Intervals under a minute are
// rounded up to one minute; zero means the relay's default 24h window.
func BuildPlist(opt InstallOptions) ([]byte, error) {
	if strings.TrimSpace(opt.Label) == "" {
		return nil, errors.New("label required")
	}
	if strings.TrimSpace(opt.ProgramPath) == "" {
		return nil, errors.New("program path required")
	}
	if opt.Interval <= 0 {
		opt.Interval = 24 * time.Hour
	}
	if opt.Interval < time.Minute {
		opt.Interval = time.Minute
	}
	if opt.LogPath == "" {
		opt.LogPath = defaultLogPath()
	}
	data := struct {
		Label   string
		Args    []string
		Seconds int64
		LogPath string
	}{
		Label:   opt.Label,
		Args:    append([]string{opt.ProgramPath}, opt.ProgramArgs...),
		Seconds: int64(opt.Interval / time.Second),
		LogPath: opt.LogPath,
	}
	var buf bytes.Buffer
	if err := plistTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Install writes the plist and loads it with launchctl. It returns the plist
// path, also when loading fails after the file was written.
func Install(opt InstallOptions) (string, error) {
	if runtime.GOOS != "darwin" {
		return "", errUnsupported
	}
	path, err := resolvePath(opt.Label, opt.PlistPath)
	if err != nil {
		return "", err
	}
	if opt.LogPath == "" {
		opt.LogPath = defaultLogPath()
	}
	data, err := BuildPlist(opt)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(opt.LogPath), 0o755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}

	lctl, domain, err := launchctl()
	if err != nil {
		return path, err
	}
	if err := exec.Command(lctl, "bootstrap", domain, path).Run(); err != nil {
		if err2 := exec.Command(lctl, "load", "-w", path).Run(); err2 != nil {
			return path, fmt.Errorf("launchctl bootstrap/load failed: %v / %v", err, err2)
		}
		return path, nil
	}
	_ = exec.Command(lctl, "enable", domain+"/"+opt.Label).Run()
	return path, nil
}

// Uninstall unloads the agent and removes its plist.
func Uninstall(label, plistPath string) error {
	if runtime.GOOS != "darwin" {
		return errUnsupported
	}
	path, err := resolvePath(label, plistPath)
	if err != nil {
		return err
	}
	lctl, domain, err := launchctl()
	if err != nil {
		return err
	}
	if err := exec.Command(lctl, "bootout", domain, path).Run(); err != nil {
		_ = exec.Command(lctl, "unload", "-w", path).Run()
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Status reports whether the agent is loaded, with launchd's state line.
func Status(label string) (bool, string) {
	if runtime.GOOS != "darwin" || strings.TrimSpace(label) == "" {
		return false, "unsupported"
	}
	lctl, domain, err := launchctl()
	if err != nil {
		return false, err.Error()
	}
	out, err := exec.Command(lctl, "print", domain+"/"+label).CombinedOutput()
	if err != nil {
		return false, "not loaded"
	}
	for _, ln := range strings.Split(string(out), "\n") {
		if strings.Contains(ln, "state = ") {
			return true, strings.TrimSpace(ln)
		}
	}
	return true, "loaded"
}

var intervalRe = regexp.MustCompile(`<key>StartInterval</key>\s*<integer>\s*(\d+)\s*</integer>`)

// Interval reads StartInterval back from an installed plist.
func Interval(plistPath string) (time.Duration, error) {
	b, err := os.ReadFile(plistPath)
	if err != nil {
		return 0, err
	}
	m := intervalRe.FindSubmatch(b)
	if m == nil {
		return 0, errors.New("StartInterval not found")
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func resolvePath(label, plistPath string) (string, error) {
	if strings.TrimSpace(plistPath) != "" {
		return plistPath, nil
	}
	if strings.TrimSpace(label) == "" {
		return "", errors.New("label required")
	}
	return DefaultAgentPath(label)
}

func launchctl() (string, string, error) {
	domain := fmt.Sprintf("gui/%d", os.Getuid())
	for _, c := range []string{"/bin/launchctl", "/usr/bin/launchctl"} {
		if _, err := os.Stat(c); err == nil {
			return c, domain, nil
		}
	}
	if p, err := exec.LookPath("launchctl"); err == nil {
		return p, domain, nil
	}
	return "", domain, errors.New("launchctl not found in /bin, /usr/bin, or PATH")
}
