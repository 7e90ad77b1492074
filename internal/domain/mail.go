package domain

// ParsedMail is the job request extracted from one inbound message.
type ParsedMail struct {
	Sender      string
	Subject     string
	MessageID   string
	Command     string
	Whitelisted bool
}

// Job converts the parsed message into an insertion request keyed by its
// Message-ID.
func (m ParsedMail) Job() NewJob {
	return NewJob{
		Sender:   m.Sender,
		Command:  m.Command,
		DedupKey: m.MessageID,
		Subject:  m.Subject,
	}
}
