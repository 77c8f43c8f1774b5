package types

// Message is one chat message as exposed by the messages feed.
type Message struct {
	ID        string `json:"id" msgpack:"id" mapstructure:"id"`
	Text      string `json:"text" msgpack:"text" mapstructure:"text"`
	User      string `json:"user" msgpack:"user" mapstructure:"user"`
	Timestamp string `json:"timestamp,omitempty" msgpack:"timestamp,omitempty" mapstructure:"timestamp"`
}
