package models

import "fmt"

// ActionType discriminates the DeviceAction union.
type ActionType string

const (
	ActionTurnOn        ActionType = "turn_on"
	ActionTurnOff       ActionType = "turn_off"
	ActionToggle        ActionType = "toggle"
	ActionSetBrightness ActionType = "set_brightness"
	ActionSetColor      ActionType = "set_color"
	ActionSetSpeed      ActionType = "set_speed"
)

// DeviceAction is the tagged union sent to the device command gateway.
// Only the field matching Type is meaningful; Data carries opaque extras
// for turn_on/turn_off/toggle.
type DeviceAction struct {
	Type       ActionType     `json:"type"`
	Brightness *int           `json:"brightness,omitempty"`
	RGB        *[3]int        `json:"rgb,omitempty"`
	Speed      *float64       `json:"speed,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Validate checks that the action carries the payload its type requires.
func (a DeviceAction) Validate() error {
	switch a.Type {
	case ActionTurnOn, ActionTurnOff, ActionToggle:
		return nil
	case ActionSetBrightness:
		if a.Brightness == nil {
			return fmt.Errorf("action %s: missing brightness", a.Type)
		}
		if *a.Brightness < 0 || *a.Brightness > 100 {
			return fmt.Errorf("action %s: brightness %d out of range", a.Type, *a.Brightness)
		}
	case ActionSetColor:
		if a.RGB == nil {
			return fmt.Errorf("action %s: missing rgb", a.Type)
		}
		for _, v := range a.RGB {
			if v < 0 || v > 255 {
				return fmt.Errorf("action %s: rgb component %d out of range", a.Type, v)
			}
		}
	case ActionSetSpeed:
		if a.Speed == nil {
			return fmt.Errorf("action %s: missing speed", a.Type)
		}
		if *a.Speed < 0 {
			return fmt.Errorf("action %s: negative speed", a.Type)
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}
