package audio

import "github.com/gordonklaus/portaudio"

// pickDevice returns the input device to record from, or nil to use the host
// default. A configured name wins; otherwise the best microphone is chosen.
func pickDevice(devices []*portaudio.DeviceInfo, want string, excluded []string) *portaudio.DeviceInfo {
	var mic *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev == nil || dev.MaxInputChannels < 1 || isExcluded(dev.Name, excluded) {
			continue
		}
		if want != "" {
			if containsIgnoreCase(dev.Name, want) {
				return dev
			}
			continue
		}
		if classifyDevice(dev.Name) != "user" {
			continue
		}
		// Prefer built-in/MacBook mic over others
		if mic == nil || preferDevice(dev.Name, mic.Name) {
			mic = dev
		}
	}
	return mic
}

// classifyDevice reports "system" for loopback devices, "user" for
// microphones and "" otherwise.
func classifyDevice(name string) string {
	systemKeywords := []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	for _, kw := range systemKeywords {
		if containsIgnoreCase(name, kw) {
			return "system"
		}
	}

	micKeywords := []string{"microphone", "input", "mic", "built-in", "headset"}
	for _, kw := range micKeywords {
		if containsIgnoreCase(name, kw) {
			return "user"
		}
	}

	return ""
}

func isExcluded(name string, excluded []string) bool {
	for _, ex := range excluded {
		if ex != "" && containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

func preferDevice(name, current string) bool {
	preferred := []string{"macbook", "built-in"}
	for _, p := range preferred {
		if containsIgnoreCase(name, p) && !containsIgnoreCase(current, p) {
			return true
		}
	}
	return false
}

func containsIgnoreCase(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || containsIgnoreCaseImpl(s, substr))
}

const asciiCaseOffset = 'a' - 'A'

func containsIgnoreCaseImpl(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += asciiCaseOffset
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += asciiCaseOffset
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
