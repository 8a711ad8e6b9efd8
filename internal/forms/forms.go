// Package forms validates the widget's data-collection sub-flows and
// renders valid submissions as synthetic command turns.
package forms

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Synthetic command prefixes. Turns beginning with one of these are
// machine-generated stand-ins for form submissions and are never echoed
// verbatim in the transcript.
const (
	CmdOrderStatus   = "ORDER_STATUS"
	CmdCycleStatus   = "CYCLE_STATUS"
	CmdLoyaltySignup = "LOYALTY_SIGNUP"
	CmdRating        = "FEEDBACK_RATING"
)

var syntheticRe = regexp.MustCompile(`^(?:` +
	CmdOrderStatus + `|` +
	CmdCycleStatus + `|` +
	CmdLoyaltySignup + `|` +
	CmdRating + `)\b`)

// Synthetic reports whether text is a machine-generated command turn.
func Synthetic(text string) bool {
	return syntheticRe.MatchString(strings.TrimSpace(text))
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// LoyaltySignup is the loyalty-programme signup fragment.
type LoyaltySignup struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// Validate returns one message per missing or invalid field. An empty
// slice means the submission may be sent.
func (f LoyaltySignup) Validate() []string {
	var problems []string
	if strings.TrimSpace(f.FirstName) == "" {
		problems = append(problems, "First name is required")
	}
	if strings.TrimSpace(f.Email) == "" {
		problems = append(problems, "Email is required")
	} else if !emailRe.MatchString(strings.TrimSpace(f.Email)) {
		problems = append(problems, "Email address looks invalid")
	}
	return problems
}

// Command renders the signup as a synthetic turn carrying a structured
// payload marker.
func (f LoyaltySignup) Command() string {
	payload, _ := json.Marshal(f)
	return CmdLoyaltySignup + " " + string(payload)
}

// OrderLookup is the order-tracking fragment.
type OrderLookup struct {
	OrderNumber string `json:"order_number"`
}

func (f OrderLookup) Validate() []string {
	if strings.TrimSpace(f.OrderNumber) == "" {
		return []string{"Order number is required"}
	}
	return nil
}

func (f OrderLookup) Command() string {
	return CmdOrderStatus + " " + strings.TrimSpace(f.OrderNumber)
}

// CycleLookup is the Cycle-to-Work status fragment.
type CycleLookup struct {
	Reference string `json:"reference"`
}

func (f CycleLookup) Validate() []string {
	if strings.TrimSpace(f.Reference) == "" {
		return []string{"Scheme reference is required"}
	}
	return nil
}

func (f CycleLookup) Command() string {
	return CmdCycleStatus + " " + strings.TrimSpace(f.Reference)
}

// RatingCommand renders a 1..5 rating as a synthetic turn.
func RatingCommand(n int) string {
	return fmt.Sprintf("%s %d", CmdRating, n)
}
