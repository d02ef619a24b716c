package session

// Level classifies a notice for presentation.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is a fire-and-forget, toast-style user notification. The triggering
// conditions are part of the provider contract; the wording is presentation.
type Notice struct {
	Level  Level
	Title  string
	Detail string
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notice)

func (fn NotifierFunc) Notify(n Notice) { fn(n) }

func errNotice(title, detail string) Notice {
	return Notice{Level: LevelError, Title: title, Detail: detail}
}

func infoNotice(title, detail string) Notice {
	return Notice{Level: LevelInfo, Title: title, Detail: detail}
}
