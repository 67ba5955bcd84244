package realtime

import (
	"fmt"
	"strings"

	"github.com/ent0n29/interviewsim/internal/profile"
)

// PersonaInstructions tells the realtime model which customer to play.
func PersonaInstructions(p profile.Profile) string {
	var b strings.Builder
	b.WriteString("You are role-playing a potential customer in a customer discovery interview. ")
	b.WriteString("Stay in character for the whole conversation and answer as this person would, drawing on their past experiences. ")
	b.WriteString("Do not volunteer solutions or praise ideas unless asked about concrete past behavior. ")
	b.WriteString("Keep answers short and conversational.\n\n")
	fmt.Fprintf(&b, "Customer profile:\n%s\n", strings.TrimSpace(p.CustomerProfile))
	var goals []string
	for _, o := range p.Objectives {
		if o = strings.TrimSpace(o); o != "" {
			goals = append(goals, "- "+o)
		}
	}
	if len(goals) > 0 {
		b.WriteString("\nThe interviewer is practicing how to learn about:\n")
		b.WriteString(strings.Join(goals, "\n"))
		b.WriteString("\nOnly reveal this information when asked good, specific questions.\n")
	}
	return b.String()
}
