package analysis

import (
	"fmt"
	"strings"
)

const GeneralSystemPrompt = `You are evaluating this conversation for the Mom Test. We want feedback for this practice customer interview on how well the interviewer performed a mom test. A good mom test has the following characteristics:
- Avoids leading questions
- Focuses on the customer's past instead of hypothetical future behavior
- Asks for specifics
- Digs deep into motivations of the customers
- Listens more than talks

The goal of your feedback is to make the interviewer better at the Mom Test so when it's done for real, they can get the most value out of those conversations.
Give specific actionable insights with examples from the conversation if possible. Don't go point by point on characteristics of a mom test.
Instead, give a concise summary with a couple of actionable items if possible.
Transcript:`

// RubricSystemPrompt grades the interview against the session's own objectives.
func RubricSystemPrompt(customerProfile string, objectives []string) string {
	var b strings.Builder
	b.WriteString("You are grading a practice customer interview against the interviewer's learning objectives.\n")
	fmt.Fprintf(&b, "The simulated customer was: %s\n\n", strings.TrimSpace(customerProfile))
	b.WriteString("Learning objectives:\n")
	n := 0
	for _, o := range objectives {
		if o = strings.TrimSpace(o); o == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, o)
	}
	b.WriteString("\nFor each objective, state whether the interviewer learned it (Met, Partially met, Not met), ")
	b.WriteString("quote the part of the conversation that supports the grade, and suggest one question that would have uncovered more.\n")
	b.WriteString("Finish with an overall score from 1 to 5.\nTranscript:")
	return b.String()
}
