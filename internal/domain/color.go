package domain

// palette mirrors the fixed set of user colors the site has always used.
var palette = []string{
	"#4287f5", "#42f5a7", "#f54242", "#f5a742",
	"#a742f5", "#42f5e8", "#f542a7", "#7bf542",
	"#f57b42", "#42a7f5", "#f542e8", "#a7f542",
}

// ColorFor derives a stable display color from a user id. The same id
// always maps to the same palette entry.
func ColorFor(userID string) string {
	var hash int32
	for _, c := range userID {
		hash = c + ((hash << 5) - hash)
	}
	return palette[int(uint32(hash))%len(palette)]
}
