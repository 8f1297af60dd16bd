package thinking

import "time"

// StatusInterval is how long each placeholder status stays on screen.
const StatusInterval = 2 * time.Second

// Statuses are the texts the placeholder cycles through while a request is in flight.
var Statuses = []string{
	"Thinking...",
	"Processing your request...",
	"Analyzing context...",
	"Generating response...",
	"Almost done...",
}

// Status returns the placeholder text to show once elapsed has passed since the placeholder appeared. The
// texts cycle, starting over after the last one.
func Status(elapsed time.Duration) string {
	if elapsed < 0 {
		elapsed = 0
	}
	return Statuses[int(elapsed/StatusInterval)%len(Statuses)]
}
