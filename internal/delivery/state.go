package delivery

// State is a step of one delivery attempt.
type State int

const (
	ReadingMessage State = iota
	ReadingTransactionID
	ReadingEndpoint
	Dialing
	Calling
	Reporting
)

func (s State) String() string {
	switch s {
	case ReadingMessage:
		return "reading_message"
	case ReadingTransactionID:
		return "reading_transaction_id"
	case ReadingEndpoint:
		return "reading_endpoint"
	case Dialing:
		return "dialing"
	case Calling:
		return "calling"
	case Reporting:
		return "reporting"
	default:
		return "unknown"
	}
}
