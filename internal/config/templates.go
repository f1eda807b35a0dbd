package config

import (
	"fmt"
	"os"
	"strings"
)

// Kinds lists the template names Template accepts.
func Kinds() []string {
	return []string{"station", "throttle", "accessory"}
}

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "station":
		return stationTemplate, nil
	case "throttle":
		return throttleTemplate, nil
	case "accessory":
		return accessoryTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const stationTemplate = `controller_addr = ":2560"
accessory_addr = ":2561"
admin_addr = "127.0.0.1:9560"
log_level = "info"
name = "DCCRELAY"
version = "1.0"
current_reading = 0
max_param_chars = 20
replay_timeout = "5s"
`

const throttleTemplate = `addr = "localhost:2560"
log_level = "info"
connect_timeout = "5s"
max_attempts = 0
backoff_initial = "250ms"
backoff_max = "5s"
backoff_multiplier = 2.0
backoff_jitter = true
`

const accessoryTemplate = `addr = "localhost:2561"
log_level = "info"
connect_timeout = "5s"
max_attempts = 0
backoff_initial = "250ms"
backoff_max = "5s"
backoff_multiplier = 2.0
backoff_jitter = true

[[outputs]]
name = "turnout-yard-east"
address = 130
sub = 2

[[outputs]]
name = "signal-yard-east"
address = 130
sub = 2

[[sensors]]
name = "block-5"
pin = 22
`
