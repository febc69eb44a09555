package domain

// InlineButton is a button attached to a message. Exactly one of
// CallbackData or URL is set.
type InlineButton struct {
	Text         string
	CallbackData string
	URL          string
}

// InlineKeyboard rows of inline buttons
type InlineKeyboard [][]InlineButton

// LinkButton opens a URL
type LinkButton struct {
	Text string
	URL  string
}

// RecordCard is a formatted record (car) ready to be sent
type RecordCard struct {
	PhotoURL string
	Caption  string
	Keyboard InlineKeyboard
}
