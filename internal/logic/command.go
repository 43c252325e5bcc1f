package logic

import (
	"bytes"
	"encoding/json"
)

// Wire values of the gpio field.
const (
	ValuePowerOn       = "on"
	ValueForceShutdown = "fs"
)

// FieldGPIO is the only key a command payload is read from. It is matched
// exactly; "GPIO" or "Gpio" are different keys.
const FieldGPIO = "gpio"

// ParseCommand decodes a raw payload into a Command.
// It never returns an error: anything that is not {"gpio":"on"} or
// {"gpio":"fs"} becomes an Invalid command carrying the reason.
func ParseCommand(data []byte) Command {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Command{Kind: CommandInvalid, Reason: ReasonEmpty}
	}
	// Arrays, strings and numbers fail to unmarshal into a map, but null
	// does not, so check the shape first.
	if data[0] != '{' {
		return Command{Kind: CommandInvalid, Reason: ReasonMalformed}
	}

	// Struct tags match keys case-insensitively; map keys do not.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Command{Kind: CommandInvalid, Reason: ReasonMalformed}
	}
	raw, ok := fields[FieldGPIO]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return Command{Kind: CommandInvalid, Reason: ReasonMissingField}
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return Command{Kind: CommandInvalid, Reason: ReasonMalformed}
	}

	switch value {
	case ValuePowerOn:
		return Command{Kind: CommandPowerOn, Value: value}
	case ValueForceShutdown:
		return Command{Kind: CommandForceShutdown, Value: value}
	default:
		return Command{Kind: CommandInvalid, Reason: ReasonUnrecognized, Value: value}
	}
}
