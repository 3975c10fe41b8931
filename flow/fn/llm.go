package fn

import (
	"context"
	"errors"

	"github.com/dshills/duraflow/flow"
	"github.com/dshills/duraflow/flow/model"
)

// State keys used by Generate.
const (
	KeyPrompt     = "prompt"
	KeyCompletion = "completion"
	KeyModelName  = "model"
)

// Generate builds a node function that sends state["prompt"] to the model
// and writes the completion to state["completion"] along with the model
// name. Register it under a name of your choosing:
//
//	m, _ := model.NewAnthropic(apiKey, "")
//	reg.Register("llm_generate", fn.Generate(m))
//
// The node fails its run when the prompt is missing or the provider call
// errors, surfacing the provider error in the run log.
func Generate(m model.Model) flow.TransformerFunc {
	return func(ctx context.Context, state flow.State) (flow.State, error) {
		prompt, ok := state[KeyPrompt].(string)
		if !ok || prompt == "" {
			return nil, errors.New("state has no prompt to send to the model")
		}

		completion, err := m.Generate(ctx, prompt)
		if err != nil {
			return nil, err
		}

		state[KeyCompletion] = completion
		state[KeyModelName] = m.Name()
		return state, nil
	}
}
