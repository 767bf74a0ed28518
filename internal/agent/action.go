package agent

type ActionKind string

const (
	ActionInspectSchema  ActionKind = "inspect-schema"
	ActionProposeQuery   ActionKind = "propose-query"
	ActionFinalizeAnswer ActionKind = "finalize-answer"
)

// Action is one of InspectSchema, ProposeQuery or FinalizeAnswer.
type Action interface {
	Kind() ActionKind
	sealed()
}

type InspectSchema struct{}

type ProposeQuery struct {
	SQL string
}

type FinalizeAnswer struct {
	Answer string
}

func (InspectSchema) Kind() ActionKind  { return ActionInspectSchema }
func (ProposeQuery) Kind() ActionKind   { return ActionProposeQuery }
func (FinalizeAnswer) Kind() ActionKind { return ActionFinalizeAnswer }

func (InspectSchema) sealed()  {}
func (ProposeQuery) sealed()   {}
func (FinalizeAnswer) sealed() {}

func kindOf(action Action) string {
	if action == nil {
		return "unknown"
	}
	return string(action.Kind())
}

type State string

const (
	StateStart     State = "start"
	StateThinking  State = "thinking"
	StateActing    State = "acting"
	StateFinalized State = "finalized"
	StateAborted   State = "aborted"
)
