package flow

import (
	"sort"
	"strings"
)

// DefaultAppID is used for generated headers when no app id is known.
const DefaultAppID = "com.example.app"

// WithHeader prefixes body with the appId header and separator.
func WithHeader(body, appID string) string {
	if appID == "" {
		appID = DefaultAppID
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return `appId: "` + appID + "\"\n---\n" + body
}

const (
	basicBody = `- tapOn: "Login"
- assertVisible: "Welcome"
`
	tapMappingBody = `- tapOn:
  id: "login_button"
  index: 0
  optional: true
  timeoutMs: 5000
`
	keysScrollSwipeBody = `- pressKey:
  key: enter
- scroll:
  direction: down
  times: 2
- swipe:
  direction: left
  durationMs: 300
`
	conditionsBody = `- runFlow:
  when:
    visible: "Update Available"
  file: "flows/update.yaml"
- runScript:
  when:
    platform: iOS
  file: "scripts/setup.js"
`
	simpleBody = `- launchApp
- back
- hideKeyboard
- waitForAnimationToEnd
- clearState
- clearKeychain
- takeScreenshot
`
	screenshotBody = `- takeScreenshot:
  name: "after_login"
`
	loginBody = `- tapOn: "Login"
- inputText: "username"
- inputText: "password"
- tapOn: "Submit"
- assertVisible: "Welcome"
`
)

// Examples returns the reference flows keyed by file name.
func Examples() map[string]string {
	return map[string]string{
		"flow_basic.yaml":             WithHeader(basicBody, ""),
		"flow_tap_mapping.yaml":       WithHeader(tapMappingBody, ""),
		"flow_keys_scroll_swipe.yaml": WithHeader(keysScrollSwipeBody, ""),
		"flow_conditions.yaml":        WithHeader(conditionsBody, ""),
		"flow_simple.yaml":            WithHeader(simpleBody, ""),
		"flow_screenshot.yaml":        WithHeader(screenshotBody, ""),
	}
}

// ExampleNames returns the Examples keys in sorted order.
func ExampleNames() []string {
	names := make([]string, 0, 6)
	for k := range Examples() {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ForTask picks a canned flow whose shape matches keywords in task.
// It backs offline generation where no model is available.
func ForTask(task string) string {
	t := strings.ToLower(task)
	switch {
	case strings.Contains(t, "when") || strings.Contains(t, "platform") || strings.Contains(t, "visible"):
		return WithHeader(conditionsBody, "")
	case strings.Contains(t, "scroll") || strings.Contains(t, "swipe") || strings.Contains(t, "presskey"):
		return WithHeader(keysScrollSwipeBody, "")
	case strings.Contains(t, "tap") && strings.Contains(t, "map"):
		return WithHeader(tapMappingBody, "")
	case strings.Contains(t, "simple") || strings.Contains(t, "launchapp"):
		return WithHeader(simpleBody, "")
	}
	return WithHeader(loginBody, "")
}
