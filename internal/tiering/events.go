package tiering

// Escalation is the payload of an escalation event. Kind is "quality" for a
// budgeted escalation of suspect text and "forced" when no text was produced.
type Escalation struct {
	To   string `json:"to"`
	Kind string `json:"kind"`
}
