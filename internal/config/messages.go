package config

import "fmt"

const (
	errRequiredInFullModeFmt = "%s must be set when POLICY_MODE=full"
)

type messageBuilders struct {
	requiredInFullMode func(string) string
}

func newMessageBuilders() messageBuilders {
	return messageBuilders{
		requiredInFullMode: func(key string) string {
			return fmt.Sprintf(errRequiredInFullModeFmt, key)
		},
	}
}

var messages = newMessageBuilders()
