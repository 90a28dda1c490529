package sample

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/bridgectl/internal/plugins"
	"github.com/danmuck/bridgectl/internal/protocol/envelope"
	"github.com/rs/zerolog/log"
)

const (
	// Name is the registry name of the sample platform.
	Name = "SamplePlatform"

	keyStep     = "sample.step"
	keyName     = "sample.name"
	keyInterval = "sample.interval"

	stepName     = "name"
	stepInterval = "interval"
	stepConfirm  = "confirm"
)

var errUnknownStep = errors.New("sample: unknown dialogue step")

// intervals are the polling choices offered, in presentation order.
var intervals = []struct {
	Label   string
	Seconds int
}{
	{Label: "10 seconds", Seconds: 10},
	{Label: "30 seconds", Seconds: 30},
	{Label: "60 seconds", Seconds: 60},
}

// Platform is a deterministic three-step configuration dialogue: display name,
// polling interval, confirmation.
type Platform struct{}

func NewPlatform() Platform {
	return Platform{}
}

func (Platform) Name() string {
	return Name
}

// Configure runs one turn of the dialogue.
func (p Platform) Configure(_ context.Context, pc plugins.Context, req *envelope.Request, respond plugins.Responder) error {
	if req == nil {
		pc[keyStep] = stepName
		respond.Respond(plugins.Show(namePrompt()))
		return nil
	}
	if req.Type == envelope.TypeTerminate {
		log.Debug().Str("plugin", Name).Str("step", pc.String(keyStep)).Msg("sample dialogue cancelled")
		return nil
	}

	switch pc.String(keyStep) {
	case stepName:
		var answers []string
		if _, err := req.Field("response", &answers); err != nil {
			return err
		}
		name := ""
		if len(answers) > 0 {
			name = strings.TrimSpace(answers[0])
		}
		if name == "" {
			respond.Respond(plugins.Show(namePrompt()))
			return nil
		}
		pc[keyName] = name
		pc[keyStep] = stepInterval
		respond.Respond(plugins.Show(intervalList()))
		return nil

	case stepInterval:
		sel, ok := req.Selection()
		if !ok || sel >= len(intervals) {
			respond.Respond(plugins.Show(intervalList()))
			return nil
		}
		pc[keyInterval] = intervals[sel].Seconds
		pc[keyStep] = stepConfirm
		respond.Respond(plugins.Show(envelope.Instruction{
			Title:          "Confirm",
			Detail:         fmt.Sprintf("Save %q polling every %s?", pc.String(keyName), intervals[sel].Label),
			ShowNextButton: true,
		}))
		return nil

	case stepConfirm:
		interval, _ := pc[keyInterval].(int)
		respond.Respond(plugins.Persist(plugins.KindPlatform, true, map[string]any{
			"platform": Name,
			"name":     pc.String(keyName),
			"interval": interval,
		}))
		return nil

	default:
		return fmt.Errorf("%w: %q", errUnknownStep, pc.String(keyStep))
	}
}

func namePrompt() envelope.Input {
	return envelope.Input{Title: "Sample Platform", Items: []string{"Display Name"}}
}

func intervalList() envelope.List {
	items := make([]string, 0, len(intervals))
	for _, iv := range intervals {
		items = append(items, iv.Label)
	}
	return envelope.List{Title: "Polling Interval", Items: items}
}
