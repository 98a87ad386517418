package margin

// Author identifies who wrote a message.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// Message is one conversation turn. While Complete is false the text only
// grows by appending. Interrupted marks a partial reply that was sealed after
// its stream failed.
type Message struct {
	Author      Author
	Text        string
	Complete    bool
	Interrupted bool
}
