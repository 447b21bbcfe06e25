package bus

// Envelope is the canonical inbound message shape emitted for every
// accepted event. JSON keys mirror the host dispatch contract.
type Envelope struct {
	Channel         string `json:"Channel"`
	AccountID       string `json:"AccountId"`
	To              string `json:"To"`
	From            string `json:"From"`
	Body            string `json:"Body"`
	RawBody         string `json:"RawBody,omitempty"`
	MessageSid      string `json:"MessageSid"`
	ReplyToID       string `json:"ReplyToId,omitempty"`
	MessageThreadID string `json:"MessageThreadId,omitempty"`
	Timestamp       int64  `json:"Timestamp"`
	IsGroup         bool   `json:"IsGroup"`
	MediaURL        string `json:"MediaUrl,omitempty"`
	MediaPath       string `json:"MediaPath,omitempty"`
	CorrelationID   string `json:"CorrelationId,omitempty"`
}

// SendContext carries one outbound delivery request.
type SendContext struct {
	To        string `json:"to"`
	Text      string `json:"text"`
	MediaURL  string `json:"media_url,omitempty"` // remote URL or local path
	ReplyToID string `json:"reply_to_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
}

// DeliveryResult reports a completed outbound post.
type DeliveryResult struct {
	Channel   string `json:"channel"`
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	Timestamp int64  `json:"timestamp"`
}

// EnvelopeHandler receives every accepted inbound envelope.
type EnvelopeHandler func(Envelope)
