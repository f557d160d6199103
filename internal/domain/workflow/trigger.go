package workflow

// Trigger is the pipeline step kind that moves a record to its next stage
type Trigger string

const (
	TriggerExtract         Trigger = "EXTRACT"
	TriggerAddTip          Trigger = "ADD_TIP"
	TriggerAssignTopic     Trigger = "ASSIGN_TOPIC"
	TriggerSampleAttendees Trigger = "SAMPLE_ATTENDEES"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
