package domain

// DialogueStep is the current position of a user in the intake dialogue.
type DialogueStep string

const (
	StepIdle                DialogueStep = ""
	StepAwaitName           DialogueStep = "await_name"
	StepAwaitModule         DialogueStep = "await_module"
	StepMainMenu            DialogueStep = "main_menu"
	StepAwaitCategory       DialogueStep = "await_category"
	StepAwaitErrorText      DialogueStep = "await_error_text"
	StepAwaitSuggestionText DialogueStep = "await_suggestion_text"
)

// Session carries the dialogue state of one chat user between updates.
// PendingName is only meaningful in StepAwaitModule and PendingCategory
// only in StepAwaitErrorText.
type Session struct {
	Step            DialogueStep `json:"step"`
	PendingName     string       `json:"pending_name,omitempty"`
	PendingCategory string       `json:"pending_category,omitempty"`
}

// AwaitingModule returns the session for the module picker.
func AwaitingModule(name string) Session {
	return Session{Step: StepAwaitModule, PendingName: name}
}

// AwaitingErrorText returns the session for the error description prompt.
func AwaitingErrorText(category string) Session {
	return Session{Step: StepAwaitErrorText, PendingCategory: category}
}

// MainMenu returns the resting session of a registered user.
func MainMenu() Session {
	return Session{Step: StepMainMenu}
}
