package bubbletea

// RenderContent exports renderContent for testing.
func RenderContent(m Model) string {
	return m.renderContent()
}

// StatusLine exports statusLine for testing.
func StatusLine(m Model, width int) string {
	return m.statusLine(width)
}

// Describe exports describe for testing.
func Describe(err error) string {
	return describe(err)
}

// WithCancel puts the model in the sending state with cancel as the
// in-flight exchange's cancel function.
func WithCancel(m Model, cancel func()) Model {
	m.sending = true
	m.cancel = cancel
	return m
}
