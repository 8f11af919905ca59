package agents

// Agent is a dashboard user profile. Email is the key leads are assigned by.
type Agent struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
	CanViewAll bool   `json:"can_view_all"`
	Role       string `json:"role"`
	BookingURL string `json:"booking_url,omitempty"`
}

const (
	colEmail      = "email"
	colName       = "name"
	colActive     = "active"
	colCanViewAll = "can_view_all"
	colRole       = "role"
	colBookingURL = "booking_url"
)

// Booking is the scheduling link offered for a lead that is ready to book.
type Booking struct {
	CardID     string `json:"card_id"`
	AgentEmail string `json:"agent_email"`
	URL        string `json:"url"`
}
