package session

import "github.com/horus-bot/firstAId-chat-bot-api/internal/models"

// Trim keeps the system turn at index 0 plus the maxLen-1 most recent turns.
// Older turns are discarded for good. A transcript already within bounds is
// returned unchanged, so applying Trim twice is the same as applying it once.
// maxLen below 1 is treated as 1.
func Trim(t models.Transcript, maxLen int) (models.Transcript, int) {
	if maxLen < 1 {
		maxLen = 1
	}
	if len(t) <= maxLen {
		return t, 0
	}
	keep := maxLen - 1
	out := make(models.Transcript, 0, maxLen)
	out = append(out, t[0])
	out = append(out, t[len(t)-keep:]...)
	return out, len(t) - maxLen
}
