package web

import (
	"strconv"

	"github.com/cjeanneret/SmartStepper/internal/config"
)

// Option is a select choice.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Element describes one form control.
type Element struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	InputType    string      `json:"inputType,omitempty"`
	Label        string      `json:"label"`
	Placeholder  string      `json:"placeholder,omitempty"`
	Options      []Option    `json:"options,omitempty"`
	Min          interface{} `json:"min,omitempty"`
	Max          interface{} `json:"max,omitempty"`
	DefaultValue string      `json:"defaultValue,omitempty"`
	Required     bool        `json:"required,omitempty"`
	Action       string      `json:"action,omitempty"`
	Style        string      `json:"style,omitempty"`
}

// OutputMapping binds a response key to a page element.
type OutputMapping struct {
	ElementID   string `json:"elementId"`
	ResponseKey string `json:"responseKey"`
}

// Layout is the form description served at /api/layout.
type Layout struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	SubmitURL      string          `json:"submitUrl"`
	StopURL        string          `json:"stopUrl"`
	InitURL        string          `json:"initUrl"`
	Elements       []Element       `json:"elements"`
	OutputMappings []OutputMapping `json:"outputMappings"`
}

// BuildLayout describes the control form from the resolved config.
func BuildLayout(cfg *config.Config) Layout {
	web := cfg.WebInterface
	settings := cfg.Motor.DefaultSettings
	return Layout{
		Title:       web.Title,
		Description: web.Description,
		SubmitURL:   "/api/control",
		StopURL:     "/api/stop",
		InitURL:     "/api/init",
		Elements: []Element{
			{
				ID:    "direction",
				Type:  "select",
				Label: "Direction",
				Options: []Option{
					{Value: "forward", Label: "Forward"},
					{Value: "backward", Label: "Backward"},
				},
				DefaultValue: "forward",
				Required:     true,
			},
			{
				ID:           "speed",
				Type:         "input",
				InputType:    "number",
				Label:        "Speed (RPM)",
				Placeholder:  "Enter speed in RPM",
				Min:          web.SpeedRange.Min,
				Max:          web.SpeedRange.Max,
				DefaultValue: strconv.FormatFloat(settings.DefaultSpeed, 'g', -1, 64),
				Required:     true,
			},
			{
				ID:           "steps",
				Type:         "input",
				InputType:    "number",
				Label:        "Steps",
				Placeholder:  "Number of steps to move",
				Min:          web.StepsRange.Min,
				Max:          web.StepsRange.Max,
				DefaultValue: strconv.Itoa(settings.DefaultSteps),
				Required:     true,
			},
			{ID: "submit", Type: "button", Label: "Move Motor", Action: "submit", Style: "primary"},
			{ID: "stop", Type: "button", Label: "Stop Motor", Action: "custom", Style: "danger"},
		},
		OutputMappings: []OutputMapping{
			{ElementID: "status", ResponseKey: "status"},
			{ElementID: "message", ResponseKey: "message"},
		},
	}
}
